// Package uart opens the serial line a monitor stream is written to.
//
// The line is put in raw 8N1 mode with no flow control, so the framed binary
// stream passes through the tty layer untouched.
package uart

import (
	"errors"
	"io"
	"os"
)

var (
	ErrUnsupportedBaud     = errors.New("uart: unsupported baud rate")
	ErrUnsupportedPlatform = errors.New("uart: line configuration not supported on this platform")
)

type Config struct {
	Device string
	Baud   int
}

// Port is an open serial line.
type Port struct {
	f   *os.File
	raw bool
}

var _ io.WriteCloser = (*Port)(nil)

func (p *Port) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

func (p *Port) Close() error {
	return p.f.Close()
}

func (p *Port) Name() string {
	return p.f.Name()
}

// Raw reports whether termios settings were applied. It is false when the
// device is not a tty, such as a fifo or a capture file.
func (p *Port) Raw() bool {
	return p.raw
}
