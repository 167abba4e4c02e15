//go:build !linux

package capture

import "errors"

// RawSocketSupported reports whether NewRawSocket can work on this platform.
const RawSocketSupported = false

// RawSocket is unavailable outside linux.
type RawSocket struct{}

func NewRawSocket(_ string, _ int) (*RawSocket, error) {
	return nil, errors.New("packet sockets are only supported on linux")
}

func (rs *RawSocket) ReadPacket(_ []byte) (int, error) { return 0, ErrTimeout }

func (rs *RawSocket) Interface() string { return "" }

func (rs *RawSocket) Stats() (received, dropped int, err error) { return 0, 0, nil }

func (rs *RawSocket) Close() error { return nil }
