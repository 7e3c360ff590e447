package rtree

// NodeStore persists tree nodes. Fetch returns a node the caller owns
// and may mutate freely; changes become visible only through Write.
// Implementations do not need to be safe for concurrent use: the tree
// serializes access with its own lock.
type NodeStore interface {
	// Allocate reserves a handle for a new node. The handle is not
	// readable until the first Write.
	Allocate() (Ref, error)

	// Fetch loads the node stored under ref.
	Fetch(ref Ref) (*Node, error)

	// Write stores the node and returns the handle it now lives under.
	// A copy-on-write store may relocate the node instead of rewriting
	// it in place; the caller must adopt the returned handle and stop
	// using the old one.
	Write(ref Ref, node *Node) (Ref, error)

	// Free releases ref for reuse by a later Allocate.
	Free(ref Ref) error
}

// Meta is the durable tree state kept outside the nodes themselves.
type Meta struct {
	Root   Ref
	Height int
	Count  uint64
}

// MetaStore is implemented by node stores that persist tree metadata.
// The tree saves metadata after every mutation and loads it once at
// construction.
type MetaStore interface {
	SaveMeta(m Meta) error
	LoadMeta() (Meta, bool, error)
}

// Flusher is implemented by node stores that buffer writes.
type Flusher interface {
	Flush() error
}

// MemoryStore is an in-memory NodeStore backed by a slice arena with a
// free list. Refs are arena indexes offset by one so that InvalidRef
// stays unused.
type MemoryStore struct {
	nodes []*Node
	free  []Ref
}

// NewMemoryStore returns an empty in-memory node store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Allocate() (Ref, error) {
	if n := len(s.free); n > 0 {
		ref := s.free[n-1]
		s.free = s.free[:n-1]
		return ref, nil
	}
	s.nodes = append(s.nodes, nil)
	return Ref(len(s.nodes)), nil
}

func (s *MemoryStore) Fetch(ref Ref) (*Node, error) {
	i := int(ref) - 1
	if i < 0 || i >= len(s.nodes) || s.nodes[i] == nil {
		return nil, &ErrCorrupted{Ref: ref, Detail: "stale node reference"}
	}
	stored := s.nodes[i]
	node := &Node{Level: stored.Level, Entries: make([]Entry, len(stored.Entries))}
	copy(node.Entries, stored.Entries)
	return node, nil
}

func (s *MemoryStore) Write(ref Ref, node *Node) (Ref, error) {
	i := int(ref) - 1
	if i < 0 || i >= len(s.nodes) {
		return InvalidRef, &ErrCorrupted{Ref: ref, Detail: "write to unallocated reference"}
	}
	stored := &Node{Level: node.Level, Entries: make([]Entry, len(node.Entries))}
	copy(stored.Entries, node.Entries)
	s.nodes[i] = stored
	return ref, nil
}

func (s *MemoryStore) Free(ref Ref) error {
	i := int(ref) - 1
	if i < 0 || i >= len(s.nodes) || s.nodes[i] == nil {
		return &ErrCorrupted{Ref: ref, Detail: "free of unallocated reference"}
	}
	s.nodes[i] = nil
	s.free = append(s.free, ref)
	return nil
}

// PayloadStore persists opaque payload blobs keyed by handle. Handle 0
// is reserved to mean "no payload".
type PayloadStore interface {
	// Put stores a blob and returns its handle.
	Put(data []byte) (uint64, error)

	// Get loads the blob stored under handle. A missing handle yields
	// ErrNotFound.
	Get(handle uint64) ([]byte, error)

	// Free releases the blob stored under handle.
	Free(handle uint64) error
}

// MemoryPayloadStore is an in-memory PayloadStore.
type MemoryPayloadStore struct {
	blobs map[uint64][]byte
	next  uint64
}

// NewMemoryPayloadStore returns an empty in-memory payload store.
func NewMemoryPayloadStore() *MemoryPayloadStore {
	return &MemoryPayloadStore{blobs: make(map[uint64][]byte), next: 1}
}

func (s *MemoryPayloadStore) Put(data []byte) (uint64, error) {
	handle := s.next
	s.next++
	blob := make([]byte, len(data))
	copy(blob, data)
	s.blobs[handle] = blob
	return handle, nil
}

func (s *MemoryPayloadStore) Get(handle uint64) ([]byte, error) {
	blob, ok := s.blobs[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return blob, nil
}

func (s *MemoryPayloadStore) Free(handle uint64) error {
	if _, ok := s.blobs[handle]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, handle)
	return nil
}
