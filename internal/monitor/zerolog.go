package monitor

import (
	"bytes"

	"github.com/rs/zerolog"
)

// LevelWriter returns a zerolog.LevelWriter that sends each log line as a
// user-logging packet at the line's level. Lines below threshold are skipped.
//
// Do not give it to the logger of this monitor or of its transport: those
// log while the emission lock or the serial transmitter is busy.
func (m *Monitor) LevelWriter(threshold zerolog.Level) zerolog.LevelWriter {
	return levelWriter{m: m, min: threshold}
}

type levelWriter struct {
	m   *Monitor
	min zerolog.Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < w.min {
		return len(p), nil
	}
	w.m.Log(level, "%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
