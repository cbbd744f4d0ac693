package core

// InternalID is the dense, engine-assigned identity of a stored vector.
// It is strictly 32-bit so hot-path structures (graph adjacency, bitmaps,
// heaps) stay compact. Internal ids are allocated monotonically and are
// never reused within a backend generation.
type InternalID uint32

// MaxInternalID is the maximum possible value for an InternalID.
const MaxInternalID = ^InternalID(0)
