package protocol

// Limits that bound the work an adversarial payload can cause.
const (
	// MaxObjectDepth limits nesting of composite objects, including objects
	// inside arrays and maps. Exceeding it fails with ErrMaxDepth.
	MaxObjectDepth = 32

	// MaxCollectionCount is the maximum number of items in an array or map.
	// This prevents OOM from huge counts with small per-item overhead.
	MaxCollectionCount = 1 << 20

	// MaxPacketSize is the largest MaxSize a packet type may declare.
	MaxPacketSize = 1 << 30
)

// depthContext tracks the current nesting depth for recursive objects.
type depthContext struct {
	current int
	max     int
}

// newDepthContext creates a new depth context with the given maximum.
func newDepthContext(max int) *depthContext {
	return &depthContext{current: 0, max: max}
}

// enter increments the depth and returns an error if the limit would be exceeded.
// The depth is only incremented on success.
func (dc *depthContext) enter() error {
	if dc.current >= dc.max {
		return ErrMaxDepth
	}
	dc.current++
	return nil
}

// leave decrements the depth.
func (dc *depthContext) leave() {
	dc.current--
}
