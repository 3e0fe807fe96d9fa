package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

// Run modes.
const (
	ModeAuthenticated   = "authenticated"
	ModeUnauthenticated = "unauthenticated"
)

// ErrUnknownModule is returned by RunOne for a name outside the registry.
var ErrUnknownModule = errors.New("invalid module")

// Config holds the runtime configuration for a probing run.
type Config struct {
	Mode    string
	Token   string
	Workers int
	Delay   time.Duration
	Timeout time.Duration
	Seed    int64
}

// Authenticated reports whether the run probes credentialed surfaces.
func (c Config) Authenticated() bool { return c.Mode == ModeAuthenticated }

// Runner executes probing units against one profile.
type Runner struct {
	cfg      Config
	profile  *profile.Profile
	builders []UnitBuilder
	log      zerolog.Logger
	progress ProgressReporter
}

// NewRunner wires a runner. builders is the closed, ordered unit registry;
// a nil progress reporter is replaced with a no-op.
func NewRunner(cfg Config, prof *profile.Profile, builders []UnitBuilder, log zerolog.Logger, progress ProgressReporter) *Runner {
	if progress == nil {
		progress = noopProgress{}
	}
	return &Runner{
		cfg:      cfg,
		profile:  prof,
		builders: builders,
		log:      log,
		progress: progress,
	}
}

// Units returns the registered unit names in registry order.
func (r *Runner) Units() []string {
	names := make([]string, len(r.builders))
	for i, b := range r.builders {
		names[i] = b.Name
	}
	return names
}

// RunAll executes every registered unit concurrently and always returns a
// complete report: one Results entry per unit, holding either findings or
// the error that replaced them. No unit can block or corrupt another.
func (r *Runner) RunAll(ctx context.Context) *Report {
	start := time.Now()
	report := r.newReport()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, b := range r.builders {
		wg.Add(1)
		go func(b UnitBuilder) {
			defer wg.Done()

			r.progress.UnitStarted(b.Name)
			findings, elapsed, err := r.runUnit(ctx, b)

			mu.Lock()
			r.record(report, b.Name, findings, elapsed, err)
			mu.Unlock()

			r.progress.UnitDone(b.Name, elapsed, err)
		}(b)
	}
	wg.Wait()

	report.Metadata.TotalExecutionTime = time.Since(start).Seconds()
	return report
}

// RunOne executes a single unit by name. An unknown name fails synchronously
// without running anything.
func (r *Runner) RunOne(ctx context.Context, name string) (*Report, error) {
	var builder *UnitBuilder
	for i := range r.builders {
		if r.builders[i].Name == name {
			builder = &r.builders[i]
			break
		}
	}
	if builder == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}

	start := time.Now()
	report := r.newReport()
	report.Metadata.Module = name

	r.progress.UnitStarted(name)
	findings, elapsed, err := r.runUnit(ctx, *builder)
	r.record(report, name, findings, elapsed, err)
	r.progress.UnitDone(name, elapsed, err)

	report.Metadata.TotalExecutionTime = time.Since(start).Seconds()
	return report, nil
}

// runUnit builds and runs one unit with its own request client. The client
// is released on every exit path, and a panicking unit is folded into an
// error instead of taking down the run.
func (r *Runner) runUnit(ctx context.Context, b UnitBuilder) (findings Findings, elapsed time.Duration, err error) {
	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if p := recover(); p != nil {
			findings = nil
			err = fmt.Errorf("unit %s panicked: %v", b.Name, p)
			r.log.Error().Str("unit", b.Name).Interface("panic", p).Msg("unit panicked")
		}
	}()

	log := r.log.With().Str("unit", b.Name).Logger()

	client := request.New(request.Options{
		Token:   r.cfg.Token,
		Timeout: r.cfg.Timeout,
		Delay:   r.cfg.Delay,
		Workers: r.cfg.Workers,
		Log:     log,
	})
	defer client.Close()

	unit := b.Build(Deps{
		Profile:       r.profile,
		Client:        client,
		Log:           log,
		Workers:       r.cfg.Workers,
		Seed:          r.cfg.Seed,
		Token:         r.cfg.Token,
		Authenticated: r.cfg.Authenticated(),
	})

	findings, err = unit.Enumerate(ctx)
	return findings, 0, err
}

func (r *Runner) record(report *Report, name string, findings Findings, elapsed time.Duration, err error) {
	if err != nil {
		report.Results[name] = UnitResult{Err: err.Error()}
	} else {
		report.Results[name] = UnitResult{Findings: findings}
	}
	report.Metadata.ExecutionTime[name] = elapsed.Seconds()
}

func (r *Runner) newReport() *Report {
	return &Report{
		Metadata: Metadata{
			Timestamp:     time.Now().UTC(),
			Target:        r.profile.Service,
			Mode:          r.cfg.Mode,
			Authenticated: r.cfg.Authenticated(),
			ExecutionTime: make(map[string]float64),
		},
		Results: make(map[string]UnitResult),
	}
}

type noopProgress struct{}

func (noopProgress) UnitStarted(string)                    {}
func (noopProgress) UnitDone(string, time.Duration, error) {}
func (noopProgress) Warn(string)                           {}
