package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	dserrors "github.com/mir00r/sip-dispatcher/internal/errors"
)

func newHealthDispatcher(t *testing.T, opts Options, h domain.EventHandler) *Dispatcher {
	t.Helper()
	d := New(opts, WithResolver(staticResolver{}), WithEventHandler(h))
	_, err := d.Reload(context.Background(), StaticSource{
		row(1, "sip:10.0.0.1", 0, ""),
		row(1, "sip:10.0.0.2", 0, ""),
	})
	require.NoError(t, err)
	return d
}

func timeout(uri string) domain.ProbeOutcome {
	return domain.ProbeOutcome{Group: 1, URI: uri, TimedOut: true, Elapsed: 5 * time.Second}
}

func reply(uri string, code int, elapsed time.Duration) domain.ProbeOutcome {
	return domain.ProbeOutcome{Group: 1, URI: uri, Code: code, Elapsed: elapsed}
}

// TestProbingThreshold tests that consecutive timeouts bring a destination
// from Active over Trying to Inactive and that timeouts feed no latency sample
func TestProbingThreshold(t *testing.T) {
	opts := testOptions()
	opts.LatencyStats = true
	h := &recordingHandler{}
	d := newHealthDispatcher(t, opts, h)
	ctx := context.Background()

	d.ApplyProbeOutcome(ctx, timeout("sip:10.0.0.2"))
	info := destination(t, d, 1, "sip:10.0.0.2")
	assert.Equal(t, "TP", info.State)
	assert.Equal(t, 1, info.MessageCount)

	d.ApplyProbeOutcome(ctx, timeout("sip:10.0.0.2"))
	assert.Equal(t, "TP", destination(t, d, 1, "sip:10.0.0.2").State)
	assert.Empty(t, h.routes())

	d.ApplyProbeOutcome(ctx, timeout("sip:10.0.0.2"))
	info = destination(t, d, 1, "sip:10.0.0.2")
	assert.Equal(t, "IP", info.State)
	assert.Equal(t, uint32(3), info.Latency.Timeouts)
	assert.Equal(t, uint32(0), info.Latency.Count)
	assert.Equal(t, []string{domain.RouteDestinationDown}, h.routes())
	assert.Equal(t, 408, h.events[0].Code)
	assert.Equal(t, "timeout", h.events[0].Reason)
}

// TestInactiveThreshold tests that recovery from Inactive needs the configured
// number of positive replies
func TestInactiveThreshold(t *testing.T) {
	opts := testOptions()
	opts.ProbingThreshold = 1
	opts.InactiveThreshold = 3
	h := &recordingHandler{}
	d := newHealthDispatcher(t, opts, h)
	ctx := context.Background()

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 503, 0))
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 200, 0))
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)
	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 200, 0))
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)
	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 200, 0))
	assert.Equal(t, "AP", destination(t, d, 1, "sip:10.0.0.1").State)

	assert.Equal(t, []string{domain.RouteDestinationDown, domain.RouteDestinationUp}, h.routes())
}

// TestNegativeWhileInactiveResetsRecovery tests that a failure during
// recovery keeps the destination Inactive
func TestNegativeWhileInactiveResetsRecovery(t *testing.T) {
	opts := testOptions()
	opts.ProbingThreshold = 1
	opts.InactiveThreshold = 2
	d := newHealthDispatcher(t, opts, nil)
	ctx := context.Background()

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 500, 0))
	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 200, 0))
	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 500, 0))
	info := destination(t, d, 1, "sip:10.0.0.1")
	assert.Equal(t, "IP", info.State)
	assert.Equal(t, 0, info.MessageCount)
}

func TestTryingRecoversImmediately(t *testing.T) {
	d := newHealthDispatcher(t, testOptions(), nil)
	ctx := context.Background()

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 500, 0))
	assert.Equal(t, "TP", destination(t, d, 1, "sip:10.0.0.1").State)
	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 200, 0))
	assert.Equal(t, "AP", destination(t, d, 1, "sip:10.0.0.1").State)
}

// TestInactiveOnlyRecoveryClearsProbing tests that in inactive-only mode a
// recovered destination leaves the probed pool
func TestInactiveOnlyRecoveryClearsProbing(t *testing.T) {
	opts := testOptions()
	opts.ProbingMode = domain.ProbeInactiveOnly
	opts.ProbingThreshold = 1
	opts.InactiveThreshold = 1
	d := newHealthDispatcher(t, opts, nil)
	ctx := context.Background()

	d.ApplyProbeOutcome(ctx, timeout("sip:10.0.0.1"))
	info := destination(t, d, 1, "sip:10.0.0.1")
	assert.Equal(t, "IP", info.State)
	assert.Equal(t, domain.FlagInactive|domain.FlagProbing, info.Flags)

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 200, 0))
	info = destination(t, d, 1, "sip:10.0.0.1")
	assert.Equal(t, "AX", info.State)
	assert.Equal(t, domain.DestinationFlags(0), info.Flags)
}

// TestReplyCodeWhitelist tests that whitelisted codes count as positive
func TestReplyCodeWhitelist(t *testing.T) {
	opts := testOptions()
	opts.ReplyCodes.Codes = []int{403}
	opts.ReplyCodes.Classes = []int{4}
	d := newHealthDispatcher(t, opts, nil)
	ctx := context.Background()

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 403, 0))
	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 404, 0))
	assert.Equal(t, "AP", destination(t, d, 1, "sip:10.0.0.1").State)

	d.ApplyProbeOutcome(ctx, reply("sip:10.0.0.1", 503, 0))
	assert.Equal(t, "TP", destination(t, d, 1, "sip:10.0.0.1").State)
}

func TestSendFailureIsNegative(t *testing.T) {
	opts := testOptions()
	opts.ProbingThreshold = 1
	h := &recordingHandler{}
	d := newHealthDispatcher(t, opts, h)

	d.ApplyProbeOutcome(context.Background(), domain.ProbeOutcome{Group: 1, URI: "sip:10.0.0.1", SendFailed: true})
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)
	require.Len(t, h.events, 1)
	assert.Equal(t, "probe send failed", h.events[0].Reason)
}

// TestDisabledIgnoresProbes tests that the administrative override wins
func TestDisabledIgnoresProbes(t *testing.T) {
	d := newHealthDispatcher(t, testOptions(), nil)
	require.NoError(t, d.SetState(1, "sip:10.0.0.1", "d"))

	d.ApplyProbeOutcome(context.Background(), reply("sip:10.0.0.1", 200, 0))
	assert.Equal(t, "DX", destination(t, d, 1, "sip:10.0.0.1").State)
}

func TestSetState(t *testing.T) {
	d := New(testOptions(), WithResolver(staticResolver{}))
	_, err := d.Reload(context.Background(), StaticSource{
		row(1, "sip:10.0.0.1", 0, "duid=gw1"),
	})
	require.NoError(t, err)

	require.NoError(t, d.SetState(1, "gw1", "ip"))
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)

	require.NoError(t, d.SetState(1, "sip:10.0.0.1", "a"))
	assert.Equal(t, "AX", destination(t, d, 1, "sip:10.0.0.1").State)

	assert.ErrorIs(t, d.SetState(1, "gw1", "zz"), dserrors.ErrInvalidRequest)
	assert.ErrorIs(t, d.SetState(2, "gw1", "a"), dserrors.ErrGroupNotFound)
	assert.ErrorIs(t, d.SetState(1, "gw9", "a"), dserrors.ErrDestinationNotFound)
}

// TestMarkDestination tests transaction failure feedback
func TestMarkDestination(t *testing.T) {
	opts := testOptions()
	opts.ProbingThreshold = 2
	h := &recordingHandler{}
	d := newHealthDispatcher(t, opts, h)
	ctx := context.Background()

	require.NoError(t, d.MarkDestination(ctx, 1, "sip:10.0.0.1", domain.FlagTrying))
	require.NoError(t, d.MarkDestination(ctx, 1, "sip:10.0.0.1", domain.FlagTrying))
	assert.Equal(t, "IX", destination(t, d, 1, "sip:10.0.0.1").State)

	require.NoError(t, d.MarkDestination(ctx, 1, "sip:10.0.0.1", 0))
	assert.Equal(t, "AX", destination(t, d, 1, "sip:10.0.0.1").State)
	assert.Equal(t, []string{domain.RouteDestinationDown, domain.RouteDestinationUp}, h.routes())

	assert.ErrorIs(t, d.MarkDestination(ctx, 1, "sip:10.9.9.9", 0), dserrors.ErrDestinationNotFound)
}

// TestLatencyConvergence tests that a constant latency converges every
// statistic to exactly that value
func TestLatencyConvergence(t *testing.T) {
	opts := testOptions()
	opts.LatencyStats = true
	d := newHealthDispatcher(t, opts, nil)

	for i := 0; i < 30; i++ {
		d.ApplyProbeOutcome(context.Background(), reply("sip:10.0.0.1", 200, 37*time.Millisecond))
	}
	stats := destination(t, d, 1, "sip:10.0.0.1").Latency
	assert.Equal(t, 37, stats.Min)
	assert.Equal(t, 37, stats.Max)
	assert.Equal(t, 37.0, stats.Average)
	assert.Equal(t, 37.0, stats.Estimate)
	assert.Equal(t, 0.0, stats.StdDev)
}
