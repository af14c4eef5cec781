package evaluate

// Record is the pass-through output of one scored sample, kept for offline
// inspection.
type Record struct {
	Probs      [][]float64 `msgpack:"probs"`  // valid rows only
	Length     int         `msgpack:"length"` // valid time steps
	Log        bool        `msgpack:"log,omitempty"`
	Reference  string      `msgpack:"reference"`
	Hypothesis string      `msgpack:"hypothesis,omitempty"`
}

// Sink receives output records. Implementations live in the dump package.
type Sink interface {
	Write(r Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Record) error

// Write implements Sink.
func (f SinkFunc) Write(r Record) error { return f(r) }
