//go:build !linux

package uart

func Open(cfg Config) (*Port, error) {
	return nil, ErrUnsupportedPlatform
}
