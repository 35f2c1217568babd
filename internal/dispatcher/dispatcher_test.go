package dispatcher

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

func row(group int, uri string, priority int, attrs string) domain.DestinationRow {
	return domain.DestinationRow{Group: group, URI: uri, Priority: priority, Attrs: attrs}
}

func newTestDispatcher(t *testing.T, opts Options, rows ...domain.DestinationRow) *Dispatcher {
	t.Helper()
	d := New(opts, WithResolver(staticResolver{}))
	_, err := d.Reload(context.Background(), StaticSource(rows))
	require.NoError(t, err)
	return d
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ProbingThreshold = 3
	opts.InactiveThreshold = 1
	return opts
}

// staticResolver resolves every name to 192.0.2.1
type staticResolver struct{}

func (staticResolver) LookupIP(_ context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if host == "unresolvable.invalid" {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return []net.IP{net.ParseIP("192.0.2.1")}, nil
}

// recordingHandler collects destination events
type recordingHandler struct {
	mu     sync.Mutex
	events []domain.DestinationEvent
}

func (h *recordingHandler) HandleDestinationEvent(_ context.Context, ev domain.DestinationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) routes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Route
	}
	return out
}

func destination(t *testing.T, d *Dispatcher, group int, uri string) domain.DestinationInfo {
	t.Helper()
	set := d.Tree().Find(group)
	require.NotNil(t, set)
	for _, info := range set.Destinations() {
		if sameURI(info.URI, uri) {
			return info
		}
	}
	t.Fatalf("destination %s not found in set %d", uri, group)
	return domain.DestinationInfo{}
}
