// Package dispatcher implements the destination sets, the selection
// algorithms, the health state machine, the latency estimator, call-load
// tracking and the probing scheduler of the SIP dispatcher.
package dispatcher

import (
	"sync/atomic"
	"time"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// Options are the dispatcher knobs taken from the configuration
type Options struct {
	UseDefault       bool
	Failover         bool
	HashUserOnly     bool
	ForceDestination bool
	StrictLoad       bool
	DNSMode          domain.DNSMode

	LatencyStats bool
	LatencyAlpha float64

	ProbingMode       domain.ProbingMode
	ProbingThreshold  int
	InactiveThreshold int
	ReplyCodes        config.ReplyCodes

	LoadHashSize   int
	LoadExpire     time.Duration
	LoadInitExpire time.Duration
}

// DefaultOptions returns the options of the default configuration
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.DefaultConfig())
	return opts
}

// OptionsFromConfig maps the configuration onto dispatcher options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	codes, err := config.ParseReplyCodes(cfg.Probing.ReplyCodes)
	if err != nil {
		return Options{}, err
	}
	return Options{
		UseDefault:        cfg.Dispatcher.UseDefault,
		Failover:          cfg.Dispatcher.Failover,
		HashUserOnly:      cfg.Dispatcher.HashUserOnly,
		ForceDestination:  cfg.Dispatcher.ForceDestination,
		StrictLoad:        cfg.Dispatcher.StrictLoad,
		DNSMode:           cfg.DNSMode(),
		LatencyStats:      cfg.Dispatcher.LatencyStats,
		LatencyAlpha:      cfg.Dispatcher.LatencyAlpha,
		ProbingMode:       cfg.ProbingMode(),
		ProbingThreshold:  cfg.Probing.ProbingThreshold,
		InactiveThreshold: cfg.Probing.InactiveThreshold,
		ReplyCodes:        codes,
		LoadHashSize:      cfg.CallLoad.HashSize,
		LoadExpire:        cfg.CallLoad.Expire,
		LoadInitExpire:    cfg.CallLoad.InitExpire,
	}, nil
}

// Dispatcher owns the published destination tree and every operation on it
type Dispatcher struct {
	opts Options

	current    atomic.Pointer[Tree]
	reloading  atomic.Bool
	pingActive atomic.Bool

	loads    *LoadTable
	resolver domain.Resolver
	events   domain.EventHandler
	metrics  domain.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

// Option configures optional collaborators of a Dispatcher
type Option func(*Dispatcher)

// WithResolver sets the resolver used for destination hosts
func WithResolver(r domain.Resolver) Option {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithEventHandler sets the receiver of dst-up/dst-down events
func WithEventHandler(h domain.EventHandler) Option {
	return func(d *Dispatcher) { d.events = h }
}

// WithMetrics sets the metrics collector
func WithMetrics(m domain.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher with an empty tree. Probing starts active.
func New(opts Options, options ...Option) *Dispatcher {
	if opts.ProbingThreshold <= 0 {
		opts.ProbingThreshold = 1
	}
	if opts.InactiveThreshold <= 0 {
		opts.InactiveThreshold = 1
	}
	if opts.LatencyAlpha <= 0 || opts.LatencyAlpha >= 1 {
		opts.LatencyAlpha = 0.9
	}

	d := &Dispatcher{
		opts:     opts,
		resolver: NewCachingResolver(nil, 0),
		metrics:  domain.NopMetrics{},
		logger:   logger.Nop(),
		now:      time.Now,
	}
	for _, o := range options {
		o(d)
	}
	d.logger = d.logger.DispatcherLogger()
	d.loads = NewLoadTable(opts.LoadHashSize, opts.LoadExpire, opts.LoadInitExpire)
	d.loads.now = d.now
	d.current.Store(&Tree{})
	d.pingActive.Store(true)
	return d
}

// Options returns the options the dispatcher runs with
func (d *Dispatcher) Options() Options {
	return d.opts
}

// Tree returns the currently published snapshot
func (d *Dispatcher) Tree() *Tree {
	return d.current.Load()
}

// Ready reports whether at least one destination set is loaded
func (d *Dispatcher) Ready() bool {
	return d.current.Load().Len() > 0
}

// PingActive reports whether the probing sweep runs
func (d *Dispatcher) PingActive() bool {
	return d.pingActive.Load()
}

// SetPingActive turns the probing sweep on or off
func (d *Dispatcher) SetPingActive(active bool) {
	if d.pingActive.Swap(active) != active {
		d.logger.WithField("active", active).Info("probing activity changed")
	}
}

// Loads returns the call-load table
func (d *Dispatcher) Loads() *LoadTable {
	return d.loads
}
