// Package tenant decides which tenant universes this node serves. Every
// inbound message names a tenant DID; the gate admits or refuses it before
// any other component runs.
package tenant

import (
	"sync"
	"time"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

// Status represents the serving status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Record is the gate's view of one tenant.
type Record struct {
	DID         string     `json:"did"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
}

// IsActive returns true if the tenant is served.
func (r *Record) IsActive() bool {
	return r.Status == StatusActive
}

// Gate admits tenants. In open mode any DID not explicitly suspended is
// served; in allowlist mode only provisioned DIDs are.
type Gate struct {
	mu      sync.RWMutex
	open    bool
	tenants map[string]*Record
	clock   func() time.Time
}

// NewGate creates a gate. open selects open mode.
func NewGate(open bool) *Gate {
	return &Gate{
		open:    open,
		tenants: make(map[string]*Record),
		clock:   time.Now,
	}
}

// WithClock overrides clock for testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Allow provisions a tenant DID, reinstating it if suspended.
func (g *Gate) Allow(did string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.tenants[did]; ok {
		r.Status = StatusActive
		r.SuspendedAt = nil
		return
	}
	g.tenants[did] = &Record{DID: did, Status: StatusActive, CreatedAt: g.clock()}
}

// Suspend stops serving a tenant DID without discarding its registration.
func (g *Gate) Suspend(did string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.tenants[did]
	if !ok {
		r = &Record{DID: did, CreatedAt: g.clock()}
		g.tenants[did] = r
	}
	now := g.clock()
	r.Status = StatusSuspended
	r.SuspendedAt = &now
}

// Admit returns nil when the gate serves the tenant DID.
func (g *Gate) Admit(did string) error {
	if did == "" {
		return errs.Invalid("tenant DID is required")
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.tenants[did]
	if !ok {
		if g.open {
			return nil
		}
		return errs.NotFound("tenant %s is not served by this node", did)
	}
	if !r.IsActive() {
		return errs.Unauthorized("tenant %s is suspended", did)
	}
	return nil
}

// List returns the provisioned tenants.
func (g *Gate) List() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Record, 0, len(g.tenants))
	for _, r := range g.tenants {
		out = append(out, *r)
	}
	return out
}
