package events

import (
	"github.com/artpar/facet/core/nodestack"
	"github.com/artpar/facet/domain/apierr"
)

// Well-known event names. These are the wire contract with collaborators and
// must not change.
const (
	InitNodeStack  = "facet:init:nodestack"
	InitAPIAuth    = "facet:init:apiauth"
	CheckAccess    = "facet:intercom:check:access"
	ResponseError  = "facet:response:error"
	ResponsePrefix = "facet:response:"
)

// ResponseEvent names the success event of a resource, e.g.
// ResponseEvent("item", "data") = "facet:response:item:data".
func ResponseEvent(eventType, suffix string) string {
	return ResponsePrefix + eventType + ":" + suffix
}

// AccessAction names the action an access check asks about, e.g.
// AccessAction("item", "find") = "facet:item:find".
func AccessAction(eventType, op string) string {
	return "facet:" + eventType + ":" + op
}

// NodeStackInit is the payload of InitNodeStack.
type NodeStackInit struct {
	Stack *nodestack.NodeStack
	Force bool
}

// AccessCheck is the payload of CheckAccess. The authorizer must call
// Resolve exactly once with its decision.
type AccessCheck struct {
	Action  string
	Resolve func(allow bool)
}

// ErrorResponse is the payload of ResponseError.
type ErrorResponse struct {
	Status  int
	Message string
	Errors  []apierr.Item
}
