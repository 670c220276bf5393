package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBD54566975/hubnode/pkg/auth"
	"github.com/TBD54566975/hubnode/pkg/canonicalize"
	"github.com/TBD54566975/hubnode/pkg/eventlog"
	"github.com/TBD54566975/hubnode/pkg/handlers"
	"github.com/TBD54566975/hubnode/pkg/message"
	"github.com/TBD54566975/hubnode/pkg/schema"
	"github.com/TBD54566975/hubnode/pkg/store"
	"github.com/TBD54566975/hubnode/pkg/tenant"
)

func testServer(t *testing.T) (http.Handler, *auth.Signer) {
	t.Helper()
	resolver := auth.NewStaticResolver()
	owner, err := auth.NewSigner("did:example:tenant#key-1")
	require.NoError(t, err)
	resolver.AddSigner(owner)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := handlers.NewEngine(handlers.Deps{
		Logger:   logger,
		Messages: store.NewMemoryMessageStore(),
		Data:     store.NewMemoryDataStore(),
		Events:   eventlog.NewMemoryLog(),
		Bus:      eventlog.NewBus(),
		Resolver: resolver,
		Schemas:  schema.NewValidator(),
		Gate:     tenant.NewGate(true),
	})
	return NewServer(engine, logger, nil), owner
}

func signedWrite(t *testing.T, owner *auth.Signer, payload []byte) []byte {
	t.Helper()
	d := message.Descriptor{
		Interface:        message.InterfaceRecords,
		Method:           message.MethodWrite,
		MessageTimestamp: message.Timestamp(time.Now()),
		DataCID:          canonicalize.HashBytes(payload),
		DataFormat:       "application/json",
	}
	id, err := message.EntryID(&d, owner.DID())
	require.NoError(t, err)
	d.RecordID = id
	m := &message.Message{Descriptor: d, EncodedData: payload}
	require.NoError(t, owner.Sign(m, nil))
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestPostMessage(t *testing.T) {
	srv, owner := testServer(t)
	raw := signedWrite(t, owner, []byte(`{"hello":"world"}`))

	req := httptest.NewRequest(http.MethodPost, "/tenants/"+owner.DID()+"/messages", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var reply struct {
		Status struct {
			Code int `json:"code"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, 200, reply.Status.Code)
}

func TestMalformedMessageIsBadRequest(t *testing.T) {
	srv, owner := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tenants/"+owner.DID()+"/messages",
		bytes.NewReader([]byte(`{"descriptor":{"interface":"Nope"}}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
