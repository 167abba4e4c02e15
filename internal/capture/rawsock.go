package capture

import "errors"

// ErrTimeout is returned by RawSocket.ReadPacket when no frame arrived
// within DefaultTimeout.
var ErrTimeout = errors.New("raw socket read timeout")
