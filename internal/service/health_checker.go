package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// HealthCheckConfig configures the probing sweep
type HealthCheckConfig struct {
	Interval  time.Duration
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Defaults  dispatcher.ProbeDefaults
}

// HealthChecker runs the periodic probing sweep. Probes are sent
// asynchronously; their outcomes travel over a channel to a single consumer
// that feeds the dispatcher state machine.
type HealthChecker struct {
	config   HealthCheckConfig
	ds       *dispatcher.Dispatcher
	prober   domain.Prober
	limiter  *rate.Limiter
	outcomes chan domain.ProbeOutcome
	logger   *logger.Logger

	stopChan  chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(config HealthCheckConfig, ds *dispatcher.Dispatcher, prober domain.Prober, log *logger.Logger) *HealthChecker {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &HealthChecker{
		config:   config,
		ds:       ds,
		prober:   prober,
		limiter:  limiter,
		outcomes: make(chan domain.ProbeOutcome, 256),
		logger:   log.ProbeLogger(),
		stopChan: make(chan struct{}),
	}
}

// Start starts the sweep loop and the outcome consumer
func (hc *HealthChecker) Start(ctx context.Context) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.isRunning {
		return fmt.Errorf("health checker is already running")
	}

	hc.isRunning = true
	hc.logger.Infof("Starting probing with interval %v", hc.config.Interval)

	hc.wg.Add(2)
	go hc.consume(ctx)
	go hc.sweepLoop(ctx)
	return nil
}

// Stop stops the sweep and waits for in-flight probes
func (hc *HealthChecker) Stop() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if !hc.isRunning {
		return nil
	}

	hc.logger.Info("Stopping probing")
	close(hc.stopChan)
	hc.wg.Wait()
	hc.isRunning = false
	hc.stopChan = make(chan struct{})

	hc.logger.Info("Probing stopped")
	return nil
}

// IsRunning returns true if probing is currently running
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isRunning
}

func (hc *HealthChecker) sweepLoop(ctx context.Context) {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hc.stopChan:
			return
		case <-ticker.C:
			hc.Sweep(ctx)
		}
	}
}

// Sweep issues one probe per eligible destination and returns how many were
// sent. It does not wait for the replies.
func (hc *HealthChecker) Sweep(ctx context.Context) int {
	targets := hc.ds.ProbeTargets(hc.config.Defaults)
	sent := 0
	for _, t := range targets {
		if hc.limiter != nil {
			if err := hc.limiter.Wait(ctx); err != nil {
				hc.logger.WithError(err).Debug("probe sweep interrupted")
				return sent
			}
		}
		hc.wg.Add(1)
		go hc.probe(ctx, t)
		sent++
	}
	if sent > 0 {
		hc.logger.WithField("probes", sent).Debug("probe sweep issued")
	}
	return sent
}

func (hc *HealthChecker) probe(ctx context.Context, t domain.ProbeTarget) {
	defer hc.wg.Done()

	probeCtx, cancel := context.WithTimeout(ctx, hc.config.Timeout)
	defer cancel()

	start := time.Now()
	code, reason, err := hc.prober.Probe(probeCtx, t)
	o := domain.ProbeOutcome{
		Group:   t.Group,
		URI:     t.URI,
		Code:    code,
		Reason:  reason,
		Elapsed: time.Since(start),
	}
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			o.TimedOut = true
			o.Code = 408
		} else {
			o.SendFailed = true
		}
		hc.logger.WithField("uri", t.URI).WithError(err).Debug("probe failed")
	}

	select {
	case hc.outcomes <- o:
	case <-ctx.Done():
	case <-hc.stopChan:
	}
}

func (hc *HealthChecker) consume(ctx context.Context) {
	defer hc.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hc.stopChan:
			return
		case o := <-hc.outcomes:
			hc.ds.ApplyProbeOutcome(ctx, o)
		}
	}
}

// GetStats returns probing statistics
func (hc *HealthChecker) GetStats() map[string]interface{} {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	return map[string]interface{}{
		"running":     hc.isRunning,
		"ping_active": hc.ds.PingActive(),
		"interval":    hc.config.Interval.String(),
		"timeout":     hc.config.Timeout.String(),
		"method":      hc.config.Defaults.Method,
		"from":        hc.config.Defaults.From,
	}
}
