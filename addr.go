package hilighting

import (
	"encoding/hex"
	"strings"
)

// Addr identifies the target peripheral. It's a MAC address on Linux
// or a device UUID on OS X.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from string.
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

type addr string

func (a addr) String() string {
	return string(a)
}

func (a addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		GetLogger().Errorf("error decoding address %s: %v", a.String(), err)
	}

	return out
}

// DefaultName builds the fallback display name for a peripheral that
// doesn't advertise a local name: "HILIGHTING-" plus the address tail.
func DefaultName(a Addr) string {
	s := a.String()
	if len(s) > 5 {
		s = s[len(s)-5:]
	}
	return "HILIGHTING-" + strings.ToUpper(s)
}
