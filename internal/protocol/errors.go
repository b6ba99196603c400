package protocol

import "errors"

var (
	ErrTruncated     = errors.New("protocol: truncated data")
	ErrInvalidLength = errors.New("protocol: invalid length")
	ErrIdentTooLong  = errors.New("protocol: ident too long")
	ErrNotTerminated = errors.New("protocol: string not null-terminated")
	ErrUnknownBus    = errors.New("protocol: unknown bus type")
	ErrBadAddr       = errors.New("protocol: malformed device address")
)
