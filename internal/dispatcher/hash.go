package dispatcher

import (
	"strconv"

	"github.com/emiago/sipgo/sip"
)

// Hash computes the dispatcher hash over one or two key fragments. Each full
// 4-byte big-endian word w contributes w ^ (w >> 3); the tail bytes are folded
// into a last word. Bytes are sign-extended so that results match the classic
// implementation on platforms with a signed char.
func Hash(x, y string) uint32 {
	var h uint32
	h += hashFragment(x)
	h += hashFragment(y)
	h = (h + (h >> 11)) + ((h >> 13) + (h >> 23))
	if h == 0 {
		return 1
	}
	return h
}

func hashFragment(s string) uint32 {
	var h uint32
	i := 0
	for ; i+4 <= len(s); i += 4 {
		v := uint32(int32(int8(s[i]))<<24 + int32(int8(s[i+1]))<<16 +
			int32(int8(s[i+2]))<<8 + int32(int8(s[i+3])))
		h += v ^ (v >> 3)
	}
	var v uint32
	for ; i < len(s); i++ {
		v <<= 8
		v += uint32(int32(int8(s[i])))
	}
	h += v ^ (v >> 3)
	return h
}

// URIHashKeys returns the user part and, unless userOnly is set, the host
// with ":port" appended when the port is not the scheme default.
func URIHashKeys(raw string, userOnly bool) (string, string, error) {
	raw = normalizeURI(raw)
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return "", "", err
	}
	if uri.Host == "" {
		return "", "", errNoHost
	}
	if userOnly {
		return uri.User, "", nil
	}

	host := uri.Host
	if uri.Port != 0 {
		def := 5060
		if isSecureURI(raw) {
			def = 5061
		}
		if uri.Port != def {
			host += ":" + strconv.Itoa(uri.Port)
		}
	}
	return uri.User, host, nil
}

// HashSlot returns the hash of the given values and its slot modulo slots
func HashSlot(slots int, v1, v2 string) (uint32, uint32) {
	h := Hash(v1, v2)
	if slots <= 0 {
		return h, 0
	}
	return h, h % uint32(slots)
}
