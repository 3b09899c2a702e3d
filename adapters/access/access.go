// Package access provides a role-based authorizer that answers access checks
// published on the bus.
package access

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/core/nodestack"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
)

// Special roles.
const (
	// RoleAnyone matches every caller, identified or not.
	RoleAnyone = "*"
	// RoleAuthenticated matches callers that carry a user id.
	RoleAuthenticated = "authenticated"
)

// Policy grants or denies actions to a role. Actions are glob patterns over
// access action names such as "facet:item:find" or "facet:item:*".
type Policy struct {
	Role  string   `yaml:"role" json:"role"`
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// Validate reports malformed patterns.
func (p Policy) Validate() error {
	if p.Role == "" {
		return fmt.Errorf("access policy without role")
	}
	for _, pattern := range append(append([]string{}, p.Allow...), p.Deny...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("access policy %s: bad pattern %q: %w", p.Role, pattern, err)
		}
	}
	return nil
}

// Authorizer answers access checks from a policy set that can be swapped at
// runtime.
type Authorizer struct {
	bus    ports.Bus
	logger zerolog.Logger

	policies atomic.Pointer[[]Policy]

	mu    sync.Mutex
	unsub func()
}

// New creates an authorizer with the given policies.
func New(bus ports.Bus, policies []Policy, logger zerolog.Logger) (*Authorizer, error) {
	a := &Authorizer{
		bus:    bus,
		logger: logger.With().Str("component", "access").Logger(),
	}
	if err := a.SetPolicies(policies); err != nil {
		return nil, err
	}
	return a, nil
}

// SetPolicies replaces the active policy set. Invalid sets are rejected and
// the previous set stays active.
func (a *Authorizer) SetPolicies(policies []Policy) error {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	cp := append([]Policy(nil), policies...)
	a.policies.Store(&cp)
	a.logger.Info().Int("policies", len(cp)).Msg("access policies loaded")
	return nil
}

// Policies returns the active policy set.
func (a *Authorizer) Policies() []Policy {
	if p := a.policies.Load(); p != nil {
		return *p
	}
	return nil
}

// Start subscribes to access checks and announces an active api auth so
// resources begin gating their operations.
func (a *Authorizer) Start(ctx context.Context) {
	a.mu.Lock()
	if a.unsub == nil {
		a.unsub = a.bus.Subscribe(events.CheckAccess, a.handle)
	}
	a.mu.Unlock()
	a.bus.Emit(ctx, events.InitAPIAuth, true)
}

// Stop unsubscribes and announces that api auth is gone.
func (a *Authorizer) Stop(ctx context.Context) {
	a.mu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
		a.bus.Emit(ctx, events.InitAPIAuth, false)
	}
}

func (a *Authorizer) handle(ctx context.Context, e events.Event) error {
	check, ok := e.Data.(events.AccessCheck)
	if !ok || check.Resolve == nil {
		return fmt.Errorf("unexpected %s payload %T", events.CheckAccess, e.Data)
	}

	id, _ := nodestack.IdentityFrom(ctx)
	allow := a.Allowed(id, check.Action)
	a.logger.Debug().
		Str("action", check.Action).
		Str("user", id.UserID).
		Bool("allow", allow).
		Msg("access check")
	check.Resolve(allow)
	return nil
}

// Allowed evaluates action for id. A matching deny wins over any allow; an
// action no policy allows is denied.
func (a *Authorizer) Allowed(id nodestack.Identity, action string) bool {
	allowed := false
	for _, p := range a.Policies() {
		if !applies(p.Role, id) {
			continue
		}
		if matchAny(p.Deny, action) {
			return false
		}
		if matchAny(p.Allow, action) {
			allowed = true
		}
	}
	return allowed
}

func applies(role string, id nodestack.Identity) bool {
	switch role {
	case RoleAnyone:
		return true
	case RoleAuthenticated:
		return id.UserID != ""
	}
	return id.HasRole(role)
}

func matchAny(patterns []string, action string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, action); ok {
			return true
		}
	}
	return false
}
