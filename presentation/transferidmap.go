package presentation

import "github.com/OpenCyphal/libuavcan/types"

// TransferIDKey identifies one (port, node, kind) counter, per spec.md
// section 6's persistence record.
type TransferIDKey struct {
	Port types.PortID
	Node types.NodeID
	Kind types.Kind
}

// TransferIDMap is the optional persistence hook publishers and clients
// consult at construction and write back to at destruction. The core
// neither prescribes a storage format nor flushes on every send.
type TransferIDMap interface {
	Load(key TransferIDKey) (types.TransferID, bool)
	Store(key TransferIDKey, next types.TransferID)
}

// InMemoryTransferIDMap is a TransferIDMap backed by a plain map, used in
// tests and by embedders with no persistence requirement — the spec names
// persistence as optional.
type InMemoryTransferIDMap struct {
	values map[TransferIDKey]types.TransferID
}

// NewInMemoryTransferIDMap builds an empty in-memory map.
func NewInMemoryTransferIDMap() *InMemoryTransferIDMap {
	return &InMemoryTransferIDMap{values: make(map[TransferIDKey]types.TransferID)}
}

func (m *InMemoryTransferIDMap) Load(key TransferIDKey) (types.TransferID, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *InMemoryTransferIDMap) Store(key TransferIDKey, next types.TransferID) {
	m.values[key] = next
}
