package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHash checks the hash against precomputed values, including sign
// extended bytes
func TestHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		x, y     string
		expected uint32
	}{
		{name: "empty keys never hash to zero", x: "", y: "", expected: 1},
		{name: "single byte", x: "a", expected: 109},
		{name: "high bit byte is sign extended", x: "\xff", expected: 3760390592},
		{name: "one full word", x: "abcd", expected: 1834959896},
		{name: "call-id", x: "call-1@host", expected: 2552170930},
		{name: "user and host", x: "alice", y: "example.com", expected: 1442294598},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Hash(tt.x, tt.y))
		})
	}
}

// TestURIHashKeys tests the user/host keys taken from a URI
func TestURIHashKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		uri      string
		userOnly bool
		user     string
		host     string
	}{
		{name: "no port", uri: "sip:alice@example.com", user: "alice", host: "example.com"},
		{name: "default port dropped", uri: "sip:alice@example.com:5060", user: "alice", host: "example.com"},
		{name: "other port kept", uri: "sip:alice@example.com:5080", user: "alice", host: "example.com:5080"},
		{name: "user only", uri: "sip:alice@example.com:5080", userOnly: true, user: "alice", host: ""},
		{name: "missing scheme", uri: "bob@10.0.0.1", user: "bob", host: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, err := URIHashKeys(tt.uri, tt.userOnly)
			require.NoError(t, err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.host, host)
		})
	}
}

func TestHashSlot(t *testing.T) {
	h, slot := HashSlot(4, "abcd", "")
	assert.Equal(t, uint32(1834959896), h)
	assert.Equal(t, uint32(1834959896%4), slot)

	_, slot = HashSlot(0, "abcd", "")
	assert.Equal(t, uint32(0), slot)
}
