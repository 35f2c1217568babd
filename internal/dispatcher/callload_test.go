package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	dserrors "github.com/mir00r/sip-dispatcher/internal/errors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLoadDispatcher(t *testing.T, clock *testClock) *Dispatcher {
	t.Helper()
	opts := testOptions()
	opts.LoadExpire = time.Hour
	opts.LoadInitExpire = 10 * time.Minute
	d := New(opts, WithResolver(staticResolver{}), WithClock(clock.Now))
	_, err := d.Reload(context.Background(), StaticSource{
		row(1, "sip:10.0.0.1", 0, "duid=a;maxload=5"),
	})
	require.NoError(t, err)
	return d
}

func invite(callID string) domain.SelectRequest {
	return domain.SelectRequest{Group: 1, Algorithm: domain.AlgorithmCallLoad, Method: "INVITE", CallID: callID}
}

// TestLoadExpiry tests that unanswered calls expire after the init timeout
// while confirmed calls live until the full timeout
func TestLoadExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	d := newLoadDispatcher(t, clock)
	ctx := context.Background()

	_, err := d.Select(ctx, invite("call-1"))
	require.NoError(t, err)
	_, err = d.Select(ctx, invite("call-2"))
	require.NoError(t, err)
	require.NoError(t, d.LoadUpdate(ctx, "", true, "INVITE", 200, "call-2"))
	assert.Equal(t, 2, destination(t, d, 1, "sip:10.0.0.1").Load)

	entry, ok := d.Loads().Get("call-2")
	require.True(t, ok)
	assert.Equal(t, LoadConfirmed, entry.State)
	assert.Equal(t, "a", entry.DUID)

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, d.ExpireLoads(clock.Now()))
	assert.Equal(t, 1, destination(t, d, 1, "sip:10.0.0.1").Load)
	_, ok = d.Loads().Get("call-1")
	assert.False(t, ok)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, d.ExpireLoads(clock.Now()))
	assert.Equal(t, 0, destination(t, d, 1, "sip:10.0.0.1").Load)
	assert.Equal(t, 0, d.Loads().Len())
}

func TestLoadUpdate(t *testing.T) {
	clock := &testClock{now: time.Now()}
	d := newLoadDispatcher(t, clock)
	ctx := context.Background()

	_, err := d.Select(ctx, invite("call-1"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		reply      bool
		cseqMethod string
		code       int
		callID     string
		expected   error
	}{
		{name: "provisional reply is ignored", reply: true, cseqMethod: "INVITE", code: 180, callID: "call-1"},
		{name: "reply to another method is ignored", reply: true, cseqMethod: "OPTIONS", code: 200, callID: "call-1"},
		{name: "in-dialog request is ignored", method: "INFO", callID: "call-1"},
		{name: "missing call-id", method: "BYE", expected: dserrors.ErrInvalidRequest},
		{name: "unknown call", method: "BYE", callID: "call-9", expected: dserrors.ErrCallLoadNotFound},
		{name: "cancel ends the call", method: "CANCEL", callID: "call-1"},
		{name: "second bye finds nothing", method: "BYE", callID: "call-1", expected: dserrors.ErrCallLoadNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.LoadUpdate(ctx, tt.method, tt.reply, tt.cseqMethod, tt.code, tt.callID)
			if tt.expected != nil {
				assert.ErrorIs(t, err, tt.expected)
				return
			}
			assert.NoError(t, err)
		})
	}
	assert.Equal(t, 0, destination(t, d, 1, "sip:10.0.0.1").Load)
}

func TestLoadTableDuplicateCall(t *testing.T) {
	table := NewLoadTable(4, 0, 0)

	require.NoError(t, table.Add("call-1", "a", 1))
	assert.Error(t, table.Add("call-1", "b", 1))
	assert.Equal(t, 1, table.Len())
}
