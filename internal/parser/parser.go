package parser

// Reason says why a frame did or did not yield credentials. Callers treat
// every value other than Matched the same way: the frame is passed through
// untouched and nothing is recorded.
type Reason uint8

const (
	Matched Reason = iota
	// StructuralInvalid: the buffer is too short for the header being read.
	StructuralInvalid
	// NotTargetTraffic: wrong ethertype, IP protocol or destination port.
	NotTargetTraffic
	// ProtocolMismatch: the payload is not a username/password request.
	ProtocolMismatch
	// LengthInvalid: a declared field length is 0, over 63, or overruns the payload.
	LengthInvalid
)

func (r Reason) String() string {
	switch r {
	case Matched:
		return "matched"
	case StructuralInvalid:
		return "structural-invalid"
	case NotTargetTraffic:
		return "not-target-traffic"
	case ProtocolMismatch:
		return "protocol-mismatch"
	case LengthInvalid:
		return "length-invalid"
	}
	return "unknown"
}

// Capture is a classified frame together with its decoded credentials.
type Capture struct {
	Frame
	Credentials
}

// Parse runs classify, port filter and auth parsing over one frame.
func Parse(data []byte) (Capture, Reason) {
	var c Capture

	f, r := Classify(data)
	if r != Matched {
		return c, r
	}
	if !IsProxyPort(f.DstPort) {
		return c, NotTargetTraffic
	}
	creds, r := ParseUserPass(f.Payload)
	if r != Matched {
		return c, r
	}

	c.Frame = f
	c.Credentials = creds
	return c, Matched
}
