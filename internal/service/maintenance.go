package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/registrar"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// MaintenanceConfig sets the period of each housekeeping job. A zero period
// disables the job.
type MaintenanceConfig struct {
	LoadExpiry     time.Duration
	RegistrarSweep time.Duration
	DNSRefresh     time.Duration
}

// Maintenance runs the periodic housekeeping of the dispatcher and the
// registrar: call-load expiry, contact expiry and DNS refresh.
type Maintenance struct {
	cron   *cron.Cron
	ds     *dispatcher.Dispatcher
	reg    *registrar.Registrar
	now    func() time.Time
	logger *logger.Logger
}

// NewMaintenance schedules the jobs; reg may be nil when the registrar is off
func NewMaintenance(cfg MaintenanceConfig, ds *dispatcher.Dispatcher, reg *registrar.Registrar, log *logger.Logger) (*Maintenance, error) {
	m := &Maintenance{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		ds:     ds,
		reg:    reg,
		now:    time.Now,
		logger: log.DispatcherLogger().WithField("job", "maintenance"),
	}

	jobs := []struct {
		name   string
		period time.Duration
		run    func()
	}{
		{"call-load-expiry", cfg.LoadExpiry, func() { m.ExpireLoads() }},
		{"registrar-sweep", cfg.RegistrarSweep, func() { m.SweepContacts() }},
		{"dns-refresh", cfg.DNSRefresh, func() { m.RefreshAddresses(context.Background()) }},
	}
	for _, job := range jobs {
		if job.period <= 0 {
			continue
		}
		if job.name == "registrar-sweep" && reg == nil {
			continue
		}
		if _, err := m.cron.AddFunc("@every "+job.period.String(), job.run); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		m.logger.WithField("period", job.period.String()).Debugf("scheduled %s", job.name)
	}
	return m, nil
}

// Start starts the scheduler in its own goroutine
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// Jobs returns the number of scheduled jobs
func (m *Maintenance) Jobs() int {
	return len(m.cron.Entries())
}

// ExpireLoads releases the load of calls past their deadline
func (m *Maintenance) ExpireLoads() int {
	n := m.ds.ExpireLoads(m.now())
	if n > 0 {
		m.logger.WithField("expired", n).Info("Expired call load entries")
	}
	return n
}

// SweepContacts drops expired registrar contacts
func (m *Maintenance) SweepContacts() int {
	if m.reg == nil {
		return 0
	}
	n := m.reg.Sweep(m.now())
	if n > 0 {
		m.logger.WithField("expired", n).Info("Expired registrar contacts")
	}
	return n
}

// RefreshAddresses resolves destination hosts again
func (m *Maintenance) RefreshAddresses(ctx context.Context) int {
	n := m.ds.RefreshAddresses(ctx)
	m.logger.WithField("refreshed", n).Debug("Refreshed destination addresses")
	return n
}
