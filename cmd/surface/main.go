package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/output"
	"github.com/openrecon/surface/internal/probe"
	"github.com/openrecon/surface/internal/profile"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	output.Version = version

	var (
		token       string
		mode        string
		module      string
		outputPath  string
		profilePath string
		workers     int
		delay       time.Duration
		timeout     time.Duration
		seed        int64
		silent      bool
		verbose     bool
		noColor     bool
	)

	rootCmd := &cobra.Command{
		Use:          "surface [domain]",
		Short:        "Map a hosted service's remote attack surface",
		Long:         "Remote attack surface probing for a hosted service: ASN and netblock mapping, DNS enumeration, REST and WebSocket availability checks, CDN object fuzzing, and public directory discovery.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Respect NO_COLOR env var.
			if _, ok := os.LookupEnv("NO_COLOR"); ok {
				noColor = true
			}

			prof, err := loadProfile(profilePath, args)
			if err != nil {
				return err
			}
			if err := prof.Validate(); err != nil {
				return fmt.Errorf("invalid profile: %w", err)
			}

			// A token implies authenticated mode unless the caller pinned one.
			if token != "" && !cmd.Flags().Changed("mode") {
				mode = engine.ModeAuthenticated
			}
			if mode != engine.ModeAuthenticated && mode != engine.ModeUnauthenticated {
				return fmt.Errorf("invalid --mode %q (want %s or %s)", mode, engine.ModeAuthenticated, engine.ModeUnauthenticated)
			}
			if mode == engine.ModeAuthenticated && token == "" {
				return fmt.Errorf("--mode %s requires --token", engine.ModeAuthenticated)
			}
			if workers < 1 {
				return fmt.Errorf("--workers must be at least 1")
			}

			log := newLogger(verbose, silent, noColor)

			// Set up context with signal handling for clean Ctrl+C.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "\nInterrupted, finishing up...")
				cancel()
			}()

			cfg := engine.Config{
				Mode:    mode,
				Token:   token,
				Workers: workers,
				Delay:   delay,
				Timeout: timeout,
				Seed:    seed,
			}

			progress := output.NewProgress(os.Stderr, verbose, silent)
			if !silent {
				output.WriteHeader(os.Stderr, noColor)
			}

			runner := engine.NewRunner(cfg, prof, probe.Builders(), log, progress)

			var report *engine.Report
			if module == "all" {
				report = runner.RunAll(ctx)
			} else {
				report, err = runner.RunOne(ctx, module)
				if err != nil {
					return err
				}
			}

			progress.Complete()

			if outputPath == "" {
				if err := output.WriteJSON(os.Stdout, report); err != nil {
					return err
				}
			} else {
				if err := output.WriteFile(outputPath, report); err != nil {
					return err
				}
				if !silent {
					fmt.Fprintf(os.Stderr, "\nReport written to %s\n", outputPath)
				}
			}

			if !silent {
				output.WriteTable(os.Stderr, report, noColor)
				output.WriteSummary(os.Stderr, report, noColor)
			}

			// The report is written either way, but an interrupted run still
			// exits nonzero.
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVar(&token, "token", "", "Bearer token for authenticated probing")
	rootCmd.Flags().StringVar(&mode, "mode", engine.ModeUnauthenticated, "Probing mode: authenticated or unauthenticated")
	rootCmd.Flags().StringVar(&module, "module", "all", "Run a single unit: asn, dns, services, cdn or servers")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the JSON report to a file instead of stdout")
	rootCmd.Flags().StringVar(&profilePath, "profile", "", "Target profile YAML (overrides the domain argument)")
	rootCmd.Flags().IntVar(&workers, "workers", 10, "Concurrent request workers per unit")
	rootCmd.Flags().DurationVar(&delay, "delay", 500*time.Millisecond, "Minimum delay between requests")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "Fuzz generator seed (0 picks a time-derived seed)")
	rootCmd.Flags().BoolVar(&silent, "silent", false, "JSON report only, no progress or summary")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose per-unit progress and debug logging")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable terminal colors")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("surface {{.Version}}\n")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadProfile builds the target profile from --profile or the domain argument.
func loadProfile(path string, args []string) (*profile.Profile, error) {
	if path != "" {
		return profile.LoadFile(path)
	}
	if len(args) == 1 {
		domain := strings.ToLower(strings.TrimSpace(args[0]))
		if domain != "" {
			return profile.Default(domain), nil
		}
	}
	return nil, fmt.Errorf("a target domain or --profile is required")
}

// newLogger builds the CLI logger. Units log through it to stderr so the
// JSON report on stdout stays clean.
func newLogger(verbose, silent, noColor bool) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case silent:
		level = zerolog.ErrorLevel
	case verbose:
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen, NoColor: noColor}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}
