package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/armon/go-metrics"

	"github.com/GPTx-global/near-oracle/oracle/config"
	"github.com/GPTx-global/near-oracle/oracle/health"
	"github.com/GPTx-global/near-oracle/oracle/log"
	"github.com/GPTx-global/near-oracle/oracle/retry"
	"github.com/GPTx-global/near-oracle/oracle/rpc"
	"github.com/GPTx-global/near-oracle/oracle/scanner"
	"github.com/GPTx-global/near-oracle/oracle/scheduler"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

const (
	serviceName     = "oracled"
	shutdownTimeout = 5 * time.Second
)

type Daemon struct {
	cfg *config.Config

	client    *rpc.Client
	scanner   *scanner.Scanner
	scheduler *scheduler.Scheduler
	checker   *health.HealthChecker
	server    *health.Server
	sink      *metrics.InmemSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new oracle daemon from a validated config. Nothing runs
// until Start.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	d := new(Daemon)
	d.cfg = cfg
	d.ctx, d.cancel = context.WithCancel(ctx)

	clt, err := rpc.New(cfg.Chain.Endpoint,
		rpc.WithQueryStyle(rpc.QueryStyle(cfg.Chain.QueryStyle)),
		rpc.WithTimeout(cfg.Chain.Timeout.Duration()),
	)
	if err != nil {
		d.cancel()
		return nil, fmt.Errorf("failed to create rpc client: %w", err)
	}
	d.client = clt

	d.sink = metrics.NewInmemSink(10*time.Second, time.Minute)
	metricsConf := metrics.DefaultConfig(serviceName)
	metricsConf.EnableHostname = false
	metricsConf.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(metricsConf, d.sink); err != nil {
		d.cancel()
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	d.checker = health.NewHealthChecker(cfg.Health.Interval.Duration())
	d.checker.AddCheck(health.NewCheck("rpc", func(ctx context.Context) error {
		_, err := d.client.Status(ctx)
		return err
	}))
	d.server = health.NewServer(d.checker, d.sink)

	d.scanner = scanner.New(d.client, cfg.Chain.Contract, cfg.Chain.Method, []byte(cfg.Chain.Args))
	d.scheduler = scheduler.New(d.scanner, cfg.Oracle.RequestSpec, cfg.Oracle.PollInterval.Duration(),
		scheduler.WithResultBuffer(cfg.Oracle.ResultBuffer),
		scheduler.WithObserver(d.server.ObserveCycle),
	)

	return d, nil
}

// WaitForNode polls the node status with backoff until it answers. Only
// network errors are retried.
func (d *Daemon) WaitForNode(ctx context.Context) error {
	attempts := d.cfg.Chain.StartupAttempts
	if attempts == 0 {
		return nil
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = attempts

	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		status, err := d.client.Status(ctx)
		if err != nil {
			return err
		}
		log.Infof("connected to %s: chain=%s height=%d", d.client.Endpoint(), status.ChainID, status.SyncInfo.LatestBlockHeight)
		return nil
	}, func(err error) bool {
		return errors.Is(err, types.ErrNetwork)
	})
}

// Start runs the scheduling loop and, when enabled, the health checker and
// its HTTP server.
func (d *Daemon) Start() error {
	if d.cfg.Health.Enabled {
		if err := d.server.Start(d.cfg.Health.Listen); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.checker.Start(d.ctx)
		}()
	}

	if err := d.scheduler.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Infof("oracle daemon started: contract=%s spec=%s", d.cfg.Chain.Contract, d.cfg.Oracle.RequestSpec)

	return nil
}

// Stop lets an in-flight cycle finish, then shuts everything else down.
func (d *Daemon) Stop() {
	d.scheduler.Stop()
	d.cancel()
	d.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		log.Errorf("failed to shut down health server: %v", err)
	}

	log.Infof("oracle daemon stopped")
}

func (d *Daemon) Results() <-chan types.CycleResult {
	return d.scheduler.Results()
}

// Monitor drains cycle results until Stop closes the channel.
func (d *Daemon) Monitor() {
	for res := range d.scheduler.Results() {
		if res.Match.Found {
			log.Debugf("cycle %d: request %s is ready for fulfillment", res.Seq, res.Match.ID)
		}
	}
}

// RunOnce runs a single cycle without starting the loop.
func (d *Daemon) RunOnce(ctx context.Context) types.CycleResult {
	return d.scheduler.RunCycle(ctx)
}

func (d *Daemon) HealthAddr() string {
	return d.server.Addr()
}

func (d *Daemon) Healthy() bool {
	return d.checker.IsHealthy()
}
