//go:build linux

package uart

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
	4000000: unix.B4000000,
}

func baudFlag(baud int) (uint32, error) {
	flag, ok := baudRates[baud]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}
	return flag, nil
}

// Open opens cfg.Device for writing and configures it as a raw line. Devices
// that are not ttys are opened as plain files.
func Open(cfg Config) (*Port, error) {
	speed, err := baudFlag(cfg.Baud)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.Device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", cfg.Device, err)
	}
	p := &Port{f: f}

	fd := int(f.Fd())
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		return p, nil
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("uart: get attributes %s: %w", cfg.Device, err)
	}
	makeRaw(tio, speed)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("uart: set attributes %s: %w", cfg.Device, err)
	}
	p.raw = true
	return p, nil
}

// makeRaw sets 8N1, no parity, no flow control and no line processing.
func makeRaw(tio *unix.Termios, speed uint32) {
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0
}
