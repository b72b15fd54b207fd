package sim

// Game is the deterministic gameplay step the scheduler drives. Advance must
// be a pure function of the loaded state and the input set: byte-identical
// state plus byte-identical inputs must produce byte-identical Save output,
// across platforms. Float arithmetic, map iteration order and any other
// nondeterminism inside Advance break rollback correctness in ways the core
// cannot detect locally (peers drift apart until a checksum probe fires).
type Game interface {
	// Advance runs exactly one tick. It always runs to completion; a tick is
	// never partially applied.
	Advance(set InputSet)
	// Save serializes the full world state. Snapshots store these bytes
	// verbatim, so Save output must be self-sufficient.
	Save() ([]byte, error)
	// Load restores a state previously produced by Save.
	Load(data []byte) error
}

// Collector produces the local device input for the next tick. Called once
// per real-time frame.
type Collector interface {
	Capture() InputFrame
}

// CollectorFunc adapts a function into a Collector.
type CollectorFunc func() InputFrame

func (f CollectorFunc) Capture() InputFrame {
	if f == nil {
		return InputFrame{}
	}
	return f()
}
