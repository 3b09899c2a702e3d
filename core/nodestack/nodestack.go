// Package nodestack carries the current request (request, response writer and
// continuation) and the caller's identity through a context.Context, so CRUD
// operations never share a mutable "current request" slot.
package nodestack

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Identity is the caller as established by an upstream authenticator.
type Identity struct {
	UserID   string
	TenantID string
	Roles    []string
}

// HasRole reports whether the identity carries role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NodeStack is the request context of one inbound call.
type NodeStack struct {
	Request  *http.Request
	Response http.ResponseWriter
	Next     http.Handler

	claimed atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// New creates a node stack for a request.
func New(w http.ResponseWriter, r *http.Request, next http.Handler) *NodeStack {
	return &NodeStack{
		Request:  r,
		Response: w,
		Next:     next,
		done:     make(chan struct{}),
	}
}

// Claim claims the response. Only the caller that gets ok may write to
// Response, and it must call release once the write is complete. Later
// callers get ok false and must leave Response alone.
func (ns *NodeStack) Claim() (release func(), ok bool) {
	if !ns.claimed.CompareAndSwap(false, true) {
		return nil, false
	}
	return func() { ns.once.Do(func() { close(ns.done) }) }, true
}

// Claimed reports whether the response has been claimed.
func (ns *NodeStack) Claimed() bool {
	return ns.claimed.Load()
}

// Done is closed once the claimed response has been written.
func (ns *NodeStack) Done() <-chan struct{} {
	return ns.done
}

// Identity returns the caller identity attached to the stack's request.
func (ns *NodeStack) Identity() Identity {
	if ns == nil || ns.Request == nil {
		return Identity{}
	}
	id, _ := IdentityFrom(ns.Request.Context())
	return id
}

type stackKey struct{}
type identityKey struct{}

// WithNodeStack returns a context carrying ns.
func WithNodeStack(ctx context.Context, ns *NodeStack) context.Context {
	return context.WithValue(ctx, stackKey{}, ns)
}

// FromContext returns the node stack carried by ctx.
func FromContext(ctx context.Context) (*NodeStack, bool) {
	ns, ok := ctx.Value(stackKey{}).(*NodeStack)
	return ns, ok && ns != nil
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity carried by ctx, falling back to the
// identity of a carried node stack.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id, true
	}
	if ns, ok := FromContext(ctx); ok && ns.Request != nil && ns.Request.Context() != ctx {
		if id, ok := ns.Request.Context().Value(identityKey{}).(Identity); ok {
			return id, true
		}
	}
	return Identity{}, false
}

// Trusted identity headers set by an upstream gateway.
const (
	HeaderUserID   = "X-Facet-User"
	HeaderTenantID = "X-Facet-Tenant"
	HeaderRoles    = "X-Facet-Roles"
)

// TrustedHeaders is middleware that attaches the identity asserted by an
// upstream gateway's headers to the request context. It performs no
// verification and must only be mounted behind such a gateway.
func TrustedHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			UserID:   r.Header.Get(HeaderUserID),
			TenantID: r.Header.Get(HeaderTenantID),
		}
		for _, role := range strings.Split(r.Header.Get(HeaderRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				id.Roles = append(id.Roles, role)
			}
		}
		if id.UserID == "" && id.TenantID == "" && len(id.Roles) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
