// Package registrar keeps the contact bindings of addresses of record.
//
// Bindings live in named location domains. Every domain hashes an AOR onto
// one of its slots and each slot has its own lock, so all mutations of one
// binding are serialized while unrelated AORs proceed in parallel. Lookups
// take the same slot lock; there is no lock-free read path.
package registrar

import (
	"context"
	"sort"
	"time"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// Options are the binding rules shared by every domain
type Options struct {
	HashSize       int
	MaxContacts    int
	DefaultExpires int
	MinExpires     int
	MaxExpires     int
	ExpiresRange   int
	DescTimeOrder  bool
	DefaultQ       float64
	CaseSensitive  bool
}

// OptionsFromConfig maps the registrar configuration onto Options
func OptionsFromConfig(cfg config.RegistrarConfig) Options {
	return Options{
		HashSize:       cfg.HashSize,
		MaxContacts:    cfg.MaxContacts,
		DefaultExpires: cfg.DefaultExpires,
		MinExpires:     cfg.MinExpires,
		MaxExpires:     cfg.MaxExpires,
		ExpiresRange:   cfg.ExpiresRange,
		DescTimeOrder:  cfg.DescTimeOrder,
		DefaultQ:       cfg.DefaultQ,
		CaseSensitive:  cfg.CaseSensitive,
	}
}

// Registrar owns the location domains
type Registrar struct {
	opts    Options
	domains map[string]*Domain
	metrics domain.Metrics
	logger  *logger.Logger
	now     func() time.Time
	jitter  func(n int) int
}

// Option configures optional collaborators of a Registrar
type Option func(*Registrar)

// WithMetrics sets the metrics collector
func WithMetrics(m domain.Metrics) Option {
	return func(r *Registrar) { r.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(r *Registrar) { r.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Registrar) { r.now = now }
}

// New creates a registrar serving the named domains
func New(opts Options, names []string, options ...Option) *Registrar {
	if opts.HashSize <= 0 {
		opts.HashSize = 512
	}
	if opts.DefaultQ <= 0 || opts.DefaultQ > 1 {
		opts.DefaultQ = 1
	}

	r := &Registrar{
		opts:    opts,
		domains: make(map[string]*Domain, len(names)),
		metrics: domain.NopMetrics{},
		logger:  logger.Nop(),
		now:     time.Now,
		jitter:  randomJitter,
	}
	for _, o := range options {
		o(r)
	}
	for _, name := range names {
		r.domains[name] = newDomain(name, opts.HashSize, r.logger.RegistrarLogger(name))
	}
	return r
}

// Domain returns the location domain name
func (r *Registrar) Domain(name string) (*Domain, error) {
	d, ok := r.domains[name]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeBindingNotFound, "registrar",
			"unknown location domain "+name).WithMetadata("domain", name)
	}
	return d, nil
}

// Domains returns the domain names in sorted order
func (r *Registrar) Domains() []string {
	out := make([]string, 0, len(r.domains))
	for name := range r.domains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns copies of the valid contacts bound to aor
func (r *Registrar) Lookup(ctx context.Context, domainName, aor string) ([]domain.Contact, error) {
	d, err := r.Domain(domainName)
	if err != nil {
		return nil, err
	}
	key, err := r.normalizeAOR(aor)
	if err != nil {
		return nil, err
	}

	contacts, ok := d.lookup(key, r.now())
	if !ok {
		return nil, errors.NewError(errors.ErrCodeBindingNotFound, "registrar",
			"no contacts bound to "+key).WithMetadata("aor", key)
	}
	return contacts, nil
}

// Sweep removes expired contacts from every domain and returns how many went
func (r *Registrar) Sweep(now time.Time) int {
	total := 0
	for _, name := range r.Domains() {
		d := r.domains[name]
		n := d.sweep(now)
		total += n
		r.metrics.SetContacts(name, d.Contacts())
	}
	return total
}
