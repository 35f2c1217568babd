package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

func flaggedRow(group int, uri string, flags domain.DestinationFlags, attrs string) domain.DestinationRow {
	r := row(group, uri, 0, attrs)
	r.Flags = flags
	return r
}

func probeURIs(targets []domain.ProbeTarget) []string {
	var out []string
	for _, t := range targets {
		out = append(out, t.URI)
	}
	return out
}

// TestProbeTargets tests which destinations each probing mode checks
func TestProbeTargets(t *testing.T) {
	rows := []domain.DestinationRow{
		flaggedRow(1, "sip:10.0.0.1", domain.FlagProbing, ""),
		flaggedRow(1, "sip:10.0.0.2", 0, ""),
		flaggedRow(1, "sip:10.0.0.3", domain.FlagDisabled, ""),
		flaggedRow(1, "sip:10.0.0.4", domain.FlagNoProbe, ""),
	}

	tests := []struct {
		name     string
		mode     domain.ProbingMode
		setup    func(t *testing.T, d *Dispatcher)
		expected []string
	}{
		{name: "all", mode: domain.ProbeAll, expected: []string{"sip:10.0.0.2", "sip:10.0.0.1"}},
		{name: "only flagged", mode: domain.ProbeOnlyFlagged, expected: []string{"sip:10.0.0.1"}},
		{name: "none keeps flagged destinations", mode: domain.ProbeNone, expected: []string{"sip:10.0.0.1"}},
		{name: "inactive only without inactive destinations", mode: domain.ProbeInactiveOnly},
		{
			name: "inactive only",
			mode: domain.ProbeInactiveOnly,
			setup: func(t *testing.T, d *Dispatcher) {
				require.NoError(t, d.SetState(1, "sip:10.0.0.1", "ip"))
				require.NoError(t, d.SetState(1, "sip:10.0.0.2", "i"))
			},
			expected: []string{"sip:10.0.0.1"},
		},
		{
			name:  "ping inactive",
			mode:  domain.ProbeAll,
			setup: func(t *testing.T, d *Dispatcher) { d.SetPingActive(false) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.ProbingMode = tt.mode
			d := newTestDispatcher(t, opts, rows...)
			if tt.setup != nil {
				tt.setup(t, d)
			}
			assert.Equal(t, tt.expected, probeURIs(d.ProbeTargets(ProbeDefaults{})))
		})
	}
}

func TestProbeTargetOverrides(t *testing.T) {
	opts := testOptions()
	opts.ProbingMode = domain.ProbeAll
	d := newTestDispatcher(t, opts,
		row(1, "sip:10.0.0.1", 0, "ping_from=sip:probe@edge.example.com;socket=udp:10.1.1.1:5060;obproxy=sip:10.2.2.2"),
		row(2, "sip:10.0.0.2", 0, "socket=udp:10.1.1.1:5060;ping_socket=tcp:10.1.1.1:5060"),
		row(3, "sip:10.0.0.3", 0, ""),
	)
	def := ProbeDefaults{From: "sip:dispatcher@localhost", Socket: "udp:0.0.0.0:5060"}

	targets := d.ProbeTargets(def)
	require.Len(t, targets, 3)

	assert.Equal(t, "OPTIONS", targets[0].Method)
	assert.Equal(t, "sip:probe@edge.example.com", targets[0].From)
	assert.Equal(t, "udp:10.1.1.1:5060", targets[0].Socket)
	assert.Equal(t, "sip:10.2.2.2", targets[0].OutboundProxy)

	assert.Equal(t, "sip:dispatcher@localhost", targets[1].From)
	assert.Equal(t, "tcp:10.1.1.1:5060", targets[1].Socket)

	assert.Equal(t, 3, targets[2].Group)
	assert.Equal(t, def.From, targets[2].From)
	assert.Equal(t, def.Socket, targets[2].Socket)
	assert.Empty(t, targets[2].OutboundProxy)
}

func TestParseAttrs(t *testing.T) {
	attrs := parseAttrs("duid=gw1; weight=50;rweight=150;maxload=10;cc=1;latency=40;sockname=edge;unknown=x", logger.Nop())

	assert.Equal(t, "gw1", attrs.DUID)
	assert.Equal(t, 50, attrs.Weight)
	assert.Equal(t, 0, attrs.RelativeWeight)
	assert.Equal(t, 10, attrs.MaxLoad)
	assert.True(t, attrs.CongestionControl)
	assert.Equal(t, 40, attrs.InitialLatency)
	assert.Equal(t, "edge", attrs.SocketName)
	assert.Contains(t, attrs.Body, "unknown=x")

	attrs = parseAttrs("rweight=25;weight=-3", logger.Nop())
	assert.Equal(t, 25, attrs.RelativeWeight)
	assert.Equal(t, 0, attrs.Weight)

	assert.Equal(t, "", parseAttrs("  ", logger.Nop()).DUID)
}
