// Package transport holds what the monitor's byte sinks have in common.
//
// A sink is any io.Writer. The monitor writes each frame as a header write
// followed by one write per payload fragment, all under its emission lock,
// so sinks see whole frames in order and never need a lock of their own on
// the producer side.
//
// Implementations:
// - serial: ring buffer drained by an asynchronous transmitter
// - rtt: fixed-capacity trace channel, direct or frame-reassembling
package transport

// Stats are cumulative counters a sink may expose.
type Stats struct {
	Transport string `json:"transport"`
	Bytes     uint64 `json:"bytes"`
	Frames    uint64 `json:"frames,omitempty"`
	Dropped   uint64 `json:"dropped"`
	Skipped   uint64 `json:"skipped,omitempty"`
	Stalls    uint64 `json:"stalls,omitempty"`
}

// StatsReporter is implemented by sinks that keep counters.
type StatsReporter interface {
	Stats() Stats
}
