// Package idgen generates document identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/facet/ports"
	"github.com/google/uuid"
)

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// New returns a new UUID string.
func (UUID) New() string {
	return uuid.NewString()
}

// Sequential generates prefix1, prefix2, ... in order. Tests use it for
// predictable document ids.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next id.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
