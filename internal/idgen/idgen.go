// Package idgen generates process-unique labels for trace and debug output
// (monitoring snapshots, CLI dumps) — never for anything protocol-visible,
// since every on-wire identifier (NodeID, PortID, TransferID) is already
// defined by types. Grounded on sarchlab/akita's sim.IDGenerator: a
// sequential generator for deterministic test output and an xid-backed one
// for everything else, selected once and reused.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces opaque, unique string labels.
type Generator interface {
	Generate() string
}

// NewSequential returns a Generator producing "1", "2", "3", ... — useful
// in tests that assert on exact label output.
func NewSequential() Generator {
	return &sequential{}
}

type sequential struct {
	next uint64
}

func (g *sequential) Generate() string {
	n := atomic.AddUint64(&g.next, 1)
	return strconv.FormatUint(n, 10)
}

// xidGenerator produces globally unique, sortable-by-creation-time labels
// via github.com/rs/xid — the same library the teacher uses for event and
// request ids.
type xidGenerator struct{}

func (xidGenerator) Generate() string { return xid.New().String() }

// Default is the generator every package in this module uses unless a
// caller substitutes one (e.g. tests substituting NewSequential()).
var Default Generator = xidGenerator{}
