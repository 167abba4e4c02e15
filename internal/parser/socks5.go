package parser

import (
	txsocks5 "github.com/txthinking/socks5"

	"socksmon/internal/models"
)

// Credentials holds one decoded username/password sub-negotiation.
// The lengths are the values declared on the wire.
type Credentials struct {
	Username    [models.MaxCredentialLen + 1]byte
	Password    [models.MaxCredentialLen + 1]byte
	UsernameLen uint8
	PasswordLen uint8
}

// ParseUserPass decodes a SOCKS5 username/password request (RFC 1929):
//
//	+-----+------+----------+------+----------+
//	| VER | ULEN |  UNAME   | PLEN |  PASSWD  |
//	+-----+------+----------+------+----------+
//	|  1  |  1   | 1 to 63  |  1   | 1 to 63  |
//	+-----+------+----------+------+----------+
//
// Both lengths must be in 1..63 and the declared total must fit in payload.
// Copies are capped at MaxCredentialLen bytes and stop early at the last
// byte inside payload.
func ParseUserPass(payload []byte) (Credentials, Reason) {
	var c Credentials
	end := len(payload)

	if end < 3 {
		return c, StructuralInvalid
	}
	if payload[0] != txsocks5.UserPassVer {
		return c, ProtocolMismatch
	}

	ulen := int(payload[1])
	if ulen == 0 || ulen > models.MaxCredentialLen {
		return c, LengthInvalid
	}
	if end < 2+ulen+1 {
		return c, LengthInvalid
	}

	plen := int(payload[2+ulen])
	if plen == 0 || plen > models.MaxCredentialLen {
		return c, LengthInvalid
	}
	if end < 2+ulen+1+plen {
		return c, LengthInvalid
	}

	c.UsernameLen = uint8(ulen)
	c.PasswordLen = uint8(plen)

	i := 0
	for ; i < ulen && i < models.MaxCredentialLen; i++ {
		if 2+i+1 > end {
			break
		}
		c.Username[i] = payload[2+i]
	}
	c.Username[i] = 0

	pstart := 2 + ulen + 1
	for i = 0; i < plen && i < models.MaxCredentialLen; i++ {
		if pstart+i+1 > end {
			break
		}
		c.Password[i] = payload[pstart+i]
	}
	c.Password[i] = 0

	return c, Matched
}
