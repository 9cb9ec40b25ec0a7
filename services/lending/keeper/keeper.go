// Package keeper runs the periodic maintenance jobs of a lending daemon:
// refreshing cached exchange rates, accruing interest, sweeping protocol
// fees to the treasury and liquidating insolvent positions.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/observability"
	"lendcore/services/lending/engine"
)

const (
	JobRefreshRates = "refresh_rates"
	JobAccrue       = "accrue"
	JobSweepFees    = "sweep_fees"
	JobLiquidate    = "liquidate"
)

// Config schedules the jobs. A zero interval disables the job.
type Config struct {
	RateInterval        time.Duration
	AccrueInterval      time.Duration
	FeeInterval         time.Duration
	LiquidationInterval time.Duration
	// Operator is the sender of fee sweeps and liquidations. Fee sweeps
	// require it to be the registry owner.
	Operator crypto.Address
	// Swapper selects the liquidation venue; empty liquidates directly
	// from the operator's ledger balance.
	Swapper string
	// JobTimeout bounds a single run.
	JobTimeout time.Duration
}

// Keeper owns the scheduler.
type Keeper struct {
	engine    engine.Engine
	cfg       Config
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// New registers the configured jobs without starting them.
func New(eng engine.Engine, cfg Config, logger *slog.Logger) (*Keeper, error) {
	if eng == nil {
		return nil, errors.New("keeper: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if (cfg.FeeInterval > 0 || cfg.LiquidationInterval > 0) && cfg.Operator.IsZero() {
		return nil, errors.New("keeper: operator required for fee sweeps and liquidations")
	}
	logger = logger.With("component", "keeper")
	scheduler, err := gocron.NewScheduler(gocron.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("keeper: scheduler: %w", err)
	}
	k := &Keeper{engine: eng, cfg: cfg, scheduler: scheduler, logger: logger}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{JobRefreshRates, cfg.RateInterval, k.RefreshRates},
		{JobAccrue, cfg.AccrueInterval, k.Accrue},
		{JobSweepFees, cfg.FeeInterval, k.SweepFees},
		{JobLiquidate, cfg.LiquidationInterval, k.Liquidate},
	}
	for _, job := range jobs {
		if job.interval <= 0 {
			continue
		}
		job := job
		_, err := scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(func(ctx context.Context) { _ = k.run(ctx, job.name, job.run) }),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = scheduler.Shutdown()
			return nil, fmt.Errorf("keeper: schedule %s: %w", job.name, err)
		}
		logger.Info("keeper job scheduled", "job", job.name, "interval", job.interval)
	}
	return k, nil
}

// Start begins running jobs.
func (k *Keeper) Start() { k.scheduler.Start() }

// Stop waits for running jobs and stops the scheduler.
func (k *Keeper) Stop() error { return k.scheduler.Shutdown() }

// Jobs reports the names of the scheduled jobs.
func (k *Keeper) Jobs() []string {
	jobs := k.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	return names
}

func (k *Keeper) run(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.JobTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	observability.Keeper().ObserveRun(name, err, elapsed)
	if err != nil {
		k.logger.Warn("keeper job failed", "job", name, "duration", elapsed, "error", err)
	} else {
		k.logger.Debug("keeper job completed", "job", name, "duration", elapsed)
	}
	return err
}

func (k *Keeper) markets(ctx context.Context) ([]string, error) {
	views, err := k.engine.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(views))
	for _, view := range views {
		out = append(out, view.Address)
	}
	return out, nil
}

// forEach applies fn to every market and joins the failures.
func (k *Keeper) forEach(ctx context.Context, fn func(context.Context, string) error) error {
	markets, err := k.markets(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, market := range markets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := fn(ctx, market); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", market, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshRates pulls a fresh oracle quote into every market.
func (k *Keeper) RefreshRates(ctx context.Context) error {
	return k.forEach(ctx, func(ctx context.Context, market string) error {
		view, err := k.engine.UpdateExchangeRate(ctx, market)
		if err != nil {
			return err
		}
		if !view.Updated {
			k.logger.Warn("oracle unavailable, cached rate kept", "market", market, "rate", view.Rate)
		}
		return nil
	})
}

// Accrue settles interest on every market.
func (k *Keeper) Accrue(ctx context.Context) error {
	return k.forEach(ctx, k.engine.Accrue)
}

// SweepFees moves accumulated protocol fees of every market to the
// treasury.
func (k *Keeper) SweepFees(ctx context.Context) error {
	ctx = lending.WithSender(ctx, k.cfg.Operator)
	swept, err := k.engine.WithdrawFees(ctx, nil)
	for market, fee := range swept {
		if fee.Fraction != "0" {
			k.logger.Info("protocol fees swept", "market", market, "fraction", fee.Fraction, "share", fee.Share)
		}
	}
	return err
}

// Liquidate closes every liquidatable position through the configured
// venue.
func (k *Keeper) Liquidate(ctx context.Context) error {
	ctx = lending.WithSender(ctx, k.cfg.Operator)
	return k.forEach(ctx, func(ctx context.Context, market string) error {
		accounts, err := k.engine.Liquidatable(ctx, market)
		if err != nil || len(accounts) == 0 {
			return err
		}
		res, err := k.engine.Liquidate(ctx, market, engine.LiquidateRequest{
			Accounts: accounts,
			Swapper:  k.cfg.Swapper,
		})
		if err != nil {
			return err
		}
		k.logger.Info("positions liquidated", "market", market, "accounts", res.Liquidated, "borrowAmount", res.BorrowAmount)
		return nil
	})
}
