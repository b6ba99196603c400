// Package monitor emits Bluetooth monitor packets to a byte sink.
//
// A Monitor owns the emission lock. Every send builds its header first,
// then takes the lock and writes the header and each payload fragment
// through the sink before releasing it, so the bytes of two packets never
// interleave at the sink. The lock is held for the whole formatting pass
// of Log, which writes the message straight into the sink.
//
// Sends never fail from the caller's point of view. Sink errors are counted
// and logged; nothing is returned.
//
// The sink is chosen once at construction: a *serial.Transport or an
// *rtt.Transport in production, any io.Writer in tests.
package monitor
