package health

import (
	"context"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/GPTx-global/near-oracle/oracle/log"
)

type HealthCheck interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthStatus is the last observed state of one check.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// HealthChecker runs named checks periodically. Components that report on
// their own, like the scheduler, write their status with SetStatus.
type HealthChecker struct {
	checks   cmap.ConcurrentMap[string, HealthCheck]
	status   cmap.ConcurrentMap[string, HealthStatus]
	interval time.Duration
}

func NewHealthChecker(interval time.Duration) *HealthChecker {
	return &HealthChecker{
		checks:   cmap.New[HealthCheck](),
		status:   cmap.New[HealthStatus](),
		interval: interval,
	}
}

func (hc *HealthChecker) AddCheck(check HealthCheck) {
	name := check.Name()
	hc.checks.Set(name, check)
	hc.status.Set(name, HealthStatus{Healthy: true, LastCheck: time.Now()})

	log.Debugf("added health check: %s", name)
}

// Start runs all checks immediately, then once per interval until ctx is done.
func (hc *HealthChecker) Start(ctx context.Context) {
	log.Debugf("health checker started: interval=%s", hc.interval)

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			hc.RunChecks(ctx)
		case <-ctx.Done():
			log.Debugf("health checker stopped")
			return
		}
	}
}

// RunChecks runs every registered check once, in name order.
func (hc *HealthChecker) RunChecks(ctx context.Context) {
	names := hc.checks.Keys()
	sort.Strings(names)

	for _, name := range names {
		check, ok := hc.checks.Get(name)
		if !ok {
			continue
		}

		err := check.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		hc.SetStatus(name, err)

		if err != nil {
			log.Errorf("health check failed - %s: %v", name, err)
		} else {
			log.Debugf("health check passed: %s", name)
		}
	}
}

// SetStatus records the outcome of a check; a nil err means healthy.
func (hc *HealthChecker) SetStatus(name string, err error) {
	status := HealthStatus{Healthy: err == nil, LastCheck: time.Now()}
	if err != nil {
		status.LastError = err.Error()
	}

	hc.status.Set(name, status)
}

func (hc *HealthChecker) GetStatus() map[string]HealthStatus {
	return hc.status.Items()
}

func (hc *HealthChecker) IsHealthy() bool {
	for _, status := range hc.status.Items() {
		if !status.Healthy {
			return false
		}
	}

	return true
}

type funcCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// NewCheck adapts a function to HealthCheck.
func NewCheck(name string, checkFunc func(ctx context.Context) error) HealthCheck {
	return &funcCheck{name: name, checkFunc: checkFunc}
}

func (c *funcCheck) Check(ctx context.Context) error {
	return c.checkFunc(ctx)
}

func (c *funcCheck) Name() string {
	return c.name
}
