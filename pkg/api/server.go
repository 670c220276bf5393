package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/handlers"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// MaxMessageBytes caps an inbound message body, inlined payload included.
const MaxMessageBytes = 16 << 20

// Server routes HTTP requests to the engine. Status codes mirror the reply
// status vocabulary; the reply body itself is always returned verbatim so
// callers can treat transport and engine status uniformly.
type Server struct {
	engine *handlers.Engine
	log    *slog.Logger
	mux    *http.ServeMux
}

func NewServer(engine *handlers.Engine, logger *slog.Logger, limiter *RateLimiter) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, log: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.HandleFunc("POST /tenants/{did}/messages", s.messages)
	s.mux.HandleFunc("POST /tenants/{did}/subscriptions", s.subscribe)

	var h http.Handler = s.mux
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	return RequestID(RequestLogger(logger, h))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	tenantDID := r.PathValue("did")
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageBytes+1))
	if err != nil {
		WriteBadRequest(w, r, "unreadable request body")
		return
	}
	if len(raw) > MaxMessageBytes {
		WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large",
			fmt.Sprintf("message exceeds %d bytes", MaxMessageBytes))
		return
	}

	reply := s.engine.Handle(r.Context(), tenantDID, raw)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(reply.Status.Code))
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.log.Error("encoding reply failed", "error", err)
	}
}

// subscribe upgrades an EventsSubscribe message into a server-sent event
// stream. Each event is one SSE data frame; the stream ends when the client
// disconnects or the subscription is dropped for lagging.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	tenantDID := r.PathValue("did")
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageBytes))
	if err != nil {
		WriteBadRequest(w, r, "unreadable request body")
		return
	}
	m, err := message.Parse(raw)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternal(w, r, fmt.Errorf("response writer does not support streaming"))
		return
	}

	sub, err := s.engine.Subscribe(r.Context(), tenantDID, m)
	if err != nil {
		WriteProblem(w, r, httpStatus(errs.Code(err)), "Subscription Refused", err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			frame, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encoding event failed", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// httpStatus maps the reply status vocabulary to transport status codes. The
// vocabulary borrows HTTP numbers, so this is the identity map with a
// conservative default.
func httpStatus(code int) int {
	switch code {
	case 200, 400, 401, 404, 500:
		return code
	default:
		return http.StatusInternalServerError
	}
}
