// ============================================================================
// calcpipe CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra commands that run and exercise the calculation pipeline
//
// Command Structure:
//   calcpipe                       # Root command
//   ├── run                        # Start the pipeline with diagnostics
//   ├── calc                       # One calculation, printed as JSON
//   │   ├── --kind                 # Calculator kind
//   │   └── --input / --file       # Input document (JSON)
//   ├── simulate                   # Replay a typing burst through the scheduler
//   │   ├── --keystrokes           # Number of input events
//   │   └── --interval             # Gap between events
//   ├── status                     # Show configuration and live stats
//   ├── --config, -c               # Config file (empty = built-in defaults)
//   └── --version
//
// run Command:
//   1. Load config and set up logging
//   2. Start the pipeline (workers, cache sweeper, snapshot warm-up)
//   3. Start the diagnostics HTTP server and gRPC health server if enabled
//   4. Watch the config file and apply debounce changes live
//   5. On SIGINT/SIGTERM: stop servers, write hot-key snapshot, stop pipeline
//
// Examples:
//   ./calcpipe run -c configs/calcpipe.yaml
//   ./calcpipe calc --kind compound-interest \
//       --input '{"principal":10000,"annual_rate":5,"years":10}'
//   ./calcpipe simulate --kind compound-interest --keystrokes 8 --interval 60ms
//   ./calcpipe status
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/calculator"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/config"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/future"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/logging"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/metrics"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/pipeline"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/server"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

const defaultConfigPath = "configs/calcpipe.yaml"

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "calcpipe",
		Short: "calcpipe: a real-time calculation pipeline",
		Long: `calcpipe runs interest calculations behind:
- an adaptive input scheduler that debounces bursts of edits
- a worker pool dispatcher with per-request deadlines
- a bounded result cache with hot-key warm-up`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path (empty for built-in defaults)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildCalcCommand())
	rootCmd.AddCommand(buildSimulateCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the calculation pipeline",
		Long:  "Start the pipeline with metrics, health and debug endpoints until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, configFile, watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reload debounce settings when the config file changes")
	return cmd
}

func runPipeline(ctx context.Context, path string, watch bool) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	log, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	p, err := pipeline.New(cfg, calculator.DefaultRegistry(), pipeline.WithMetrics(collector), pipeline.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	var httpSrv *server.HTTPServer
	if cfg.Metrics.Enabled {
		httpSrv = server.NewHTTPServer(cfg.Metrics.Port, server.NewRouter(p, collector.Handler()), log)
		if err := httpSrv.Start(); err != nil {
			p.Stop()
			return err
		}
	}

	var grpcSrv *server.GRPCServer
	if cfg.GRPC.Enabled {
		grpcSrv = server.NewGRPCServer(log)
		if err := grpcSrv.Listen(cfg.GRPC.Port); err != nil {
			p.Stop()
			return err
		}
		go grpcSrv.WatchReadiness(ctx, p.Ready)
	}

	if watch && path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				if err := p.ApplyConfig(next); err != nil {
					log.Error("Failed to apply reloaded config", "error", err)
				}
			})
			if err != nil {
				log.Warn("Config watch disabled", "path", path, "error", err)
			}
		}()
	}

	log.Info("System started successfully",
		"config", path,
		"workers", cfg.Pool.MaxWorkers,
		"metrics", cfg.Metrics.Enabled,
		"grpc", cfg.GRPC.Enabled)

	<-ctx.Done()
	log.Info("Received shutdown signal, stopping gracefully")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Diagnostics server shutdown", "error", err)
		}
		cancel()
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	if err := p.Stop(); err != nil {
		return err
	}

	log.Info("System stopped")
	return nil
}

// ============================================================================
// calc
// ============================================================================

func buildCalcCommand() *cobra.Command {
	var kind, input, file string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Run one calculation and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(input, file)
			if err != nil {
				return err
			}
			return runCalc(cmd.Context(), cmd.OutOrStdout(), kind, payload, timeout)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", calculator.KindCompoundInterest, "calculator kind")
	cmd.Flags().StringVar(&input, "input", "", "input document as JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file holding the input document")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall deadline")
	return cmd
}

func readInput(inline, file string) (types.Payload, error) {
	raw := []byte(inline)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, errors.New("input is required (use --input or --file)")
	}
	var payload types.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse input JSON: %w", err)
	}
	return payload, nil
}

// startEphemeral starts a pipeline for a one-shot command. The snapshot is
// disabled so it never overwrites a running service's hot keys.
func startEphemeral(ctx context.Context) (*pipeline.Pipeline, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	cfg.Snapshot.Path = ""

	level := slog.LevelWarn
	log := slog.New(logging.NewHandler(os.Stderr, cfg.Logging.Format, level))

	p, err := pipeline.New(cfg, calculator.DefaultRegistry(), pipeline.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	return p, nil
}

func runCalc(ctx context.Context, out io.Writer, kind string, input types.Payload, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := startEphemeral(ctx)
	if err != nil {
		return err
	}
	defer p.Stop()

	res, err := p.Calculate(ctx, kind, input)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"kind":        res.Kind,
		"worker_id":   res.WorkerID,
		"duration_ms": float64(res.Duration.Microseconds()) / 1000,
		"value":       res.Value,
	})
}

// ============================================================================
// simulate
// ============================================================================

func buildSimulateCommand() *cobra.Command {
	var (
		kind       string
		input      string
		field      string
		keystrokes int
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a typing burst through the adaptive scheduler",
		Long: `Simulate a user typing into one numeric field: each keystroke appends a
digit to the field and is scheduled on the same calculator instance.
Prints how many calculations actually ran and the final result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystrokes < 1 {
				return errors.New("keystrokes must be at least 1")
			}
			base, err := readInput(input, "")
			if err != nil {
				return err
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), kind, base, field, keystrokes, interval)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", calculator.KindCompoundInterest, "calculator kind")
	cmd.Flags().StringVar(&input, "input", `{"principal":1,"annual_rate":5,"years":10}`, "starting input document as JSON")
	cmd.Flags().StringVar(&field, "field", "principal", "numeric field the keystrokes edit")
	cmd.Flags().IntVar(&keystrokes, "keystrokes", 6, "number of input events")
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "gap between input events")
	return cmd
}

func runSimulation(ctx context.Context, out io.Writer, kind string, base types.Payload, field string, keystrokes int, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := startEphemeral(ctx)
	if err != nil {
		return err
	}
	defer p.Stop()

	const instance = "simulate"
	typed := ""
	var last *future.Future
	started := time.Now()

	for i := 0; i < keystrokes; i++ {
		typed += strconv.Itoa((i % 9) + 1)
		value, _ := strconv.ParseFloat(typed, 64)

		input := make(types.Payload, len(base)+1)
		for k, v := range base {
			input[k] = v
		}
		input[field] = value

		last = p.Schedule(instance, kind, input)
		if i < keystrokes-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := last.Wait(waitCtx)
	if err != nil {
		return err
	}

	stats := p.Stats()
	ks := stats.Scheduler.Kinds[kind]
	fmt.Fprintf(out, "Keystrokes:     %d\n", ks.Inputs)
	fmt.Fprintf(out, "Calculations:   %d\n", stats.Pool.TotalRequests)
	fmt.Fprintf(out, "Cancellations:  %d\n", ks.Cancellations)
	fmt.Fprintf(out, "Elapsed:        %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(out, "Final %s: %s\n", field, typed)

	value, err := json.Marshal(res.Value)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Result:         %s\n", value)
	return nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and live pipeline status",
		Long:  "Display the effective configuration and, when a pipeline is running with diagnostics enabled, its live stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.OutOrStdout())
		},
	}
	return cmd
}

func showStatus(out io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Config File:      %s\n", displayPath(configFile))
	fmt.Fprintf(out, "  Workers:          %d x %d\n", cfg.Pool.MaxWorkers, cfg.Pool.WorkerCapacity)
	fmt.Fprintf(out, "  Request Timeout:  %dms\n", cfg.Pool.RequestTimeoutMs)
	fmt.Fprintf(out, "  Queue Depth:      %d\n", cfg.Pool.QueueMaxDepth)
	fmt.Fprintf(out, "  Cache:            %d entries / %d bytes, ttl %dms\n",
		cfg.Cache.MaxEntries, cfg.Cache.MaxMemoryBytes, cfg.Cache.DefaultTTLMs)
	fmt.Fprintf(out, "  Debounce:         base %dms in [%dms, %dms]\n",
		cfg.Debounce.DefaultBaseDelayMs, cfg.Debounce.MinDelayMs, cfg.Debounce.MaxDelayMs)
	fmt.Fprintf(out, "  Snapshot:         %s\n", displayPath(cfg.Snapshot.Path))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Pipeline:")
	if !cfg.Metrics.Enabled {
		fmt.Fprintln(out, "  Diagnostics disabled (metrics.enabled: false)")
		return nil
	}

	stats, err := fetchStats(fmt.Sprintf("http://localhost:%d/debug/pipeline", cfg.Metrics.Port))
	if err != nil {
		fmt.Fprintf(out, "  Not running (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "  Requests:         %d total, %d completed, %d failed\n",
		stats.Pool.TotalRequests, stats.Pool.CompletedRequests, stats.Pool.ErrorRequests)
	fmt.Fprintf(out, "  Cancelled:        %d (timed out %d)\n", stats.Pool.CancelledRequests, stats.Pool.TimedOutRequests)
	fmt.Fprintf(out, "  Workers:          %d ready, %d busy, %d queued\n",
		stats.Pool.ReadyWorkers, stats.Pool.BusyWorkers, stats.Pool.QueueDepth)
	fmt.Fprintf(out, "  Cache:            %d items, hit rate %.1f%%\n", stats.Cache.ItemCount, stats.Cache.HitRate*100)
	return nil
}

func fetchStats(url string) (pipeline.Stats, error) {
	var stats pipeline.Stats
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

func displayPath(p string) string {
	if p == "" {
		return "(none)"
	}
	return p
}
