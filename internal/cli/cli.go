// Package cli implements kestreld's Cobra-based command surface
// (spec §2, C11): run, submit, status, retry-errors. Grounded on the
// teacher's internal/cli.BuildCLI/run/enqueue/status command tree,
// generalized from the teacher's single-controller, gRPC-distributable
// shape to this spec's in-process PrioritizingJobScheduler, and adding
// a retry-errors command for the immediate-drain operation (spec §4.5)
// the teacher has no equivalent of.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/kestrel-scheduler/internal/config"
	"github.com/ChuLiYu/kestrel-scheduler/internal/metrics"
	"github.com/ChuLiYu/kestrel-scheduler/internal/priority"
	"github.com/ChuLiYu/kestrel-scheduler/internal/scheduler"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/badsink"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/codec"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/job"
	"github.com/ChuLiYu/kestrel-scheduler/pkg/queue"
)

var log = slog.Default()

var configFile string

// BuildCLI assembles the kestreld root command and its subcommands,
// matching the teacher's BuildCLI shape (persistent --config flag plus
// one subcommand per operator action).
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kestreld",
		Short: "kestreld: a durable, priority-partitioned job execution engine",
		Long: `kestreld runs one or more priority-ordered job schedulers, each
backed by a durable or in-memory job queue with an error queue, a retry
strobe, and an optional bad job sink for jobs that exceed their error limit.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildRetryErrorsCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and block until a shutdown signal arrives",
		Long:  "Load the config file, build every priority level's scheduler, start them, and serve metrics until SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem()
		},
	}
	return cmd
}

func runSystem() error {
	cfg, err := loadConfigOrDefault(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sched, _, err := buildScheduler(cfg)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	sched.Start()
	log.Info("kestreld started", "priorities", len(cfg.Priorities))

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down kestreld...")
	sched.Shutdown()
	log.Info("kestreld stopped")
	return nil
}

func buildSubmitCommand() *cobra.Command {
	var jobFile string
	var priorityLevel int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit jobs from a JSON file onto a priority level's queue",
		Long:  "Read job definitions from a JSON file and put them directly onto a priority level's durable or memory queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobFile == "" {
				return fmt.Errorf("job file is required (use --file or -f)")
			}
			return submitJobs(jobFile, priorityLevel)
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "JSON file containing job definitions")
	cmd.Flags().IntVar(&priorityLevel, "priority", 0, "priority level to submit onto")
	cmd.MarkFlagRequired("file")

	return cmd
}

// jobInput is the on-disk shape of one submitted job.
type jobInput struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func submitJobs(filePath string, priorityLevel int) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read job file: %w", err)
	}

	var inputs []jobInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return fmt.Errorf("failed to parse job file: %w", err)
	}

	cfg, err := loadConfigOrDefault(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sched, _, err := buildScheduler(cfg)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	count := 0
	for _, in := range inputs {
		j := job.Job{
			ID:         job.ID(in.ID),
			Payload:    []byte(in.Payload),
			EnqueuedAt: time.Now(),
			Execute:    demoExecute,
		}
		if err := sched.Put(priorityLevel, j); err != nil {
			return fmt.Errorf("failed to submit job %s: %w", in.ID, err)
		}
		count++
	}

	fmt.Printf("submitted %d job(s) to priority %d\n", count, priorityLevel)
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and worker status per priority level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfigOrDefault(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("kestreld status")
	fmt.Printf("  config file:   %s\n", configFile)
	fmt.Printf("  job queue:     %s (%s)\n", cfg.JobQueue.Type, cfg.JobQueue.Path)
	fmt.Printf("  error queue:   %s (%s)\n", cfg.ErrorQueue.Type, cfg.ErrorQueue.Path)
	fmt.Printf("  bad sink:      enabled=%v path=%s\n", cfg.BadSink.Enabled, cfg.BadSink.Path)
	fmt.Println()

	sched, _, err := buildScheduler(cfg)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	fmt.Println("priority  name            size  errors  active")
	for _, s := range sched.StatusReport() {
		fmt.Printf("%-9d %-15s %5d  %6d  %6d\n", s.Priority, s.Name, s.Size, s.ErrorSize, s.ActiveThreads)
	}
	return nil
}

func buildRetryErrorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-errors",
		Short: "Immediately drain every priority's error queue back onto its primary queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return retryErrorsNow()
		},
	}
	return cmd
}

func retryErrorsNow() error {
	cfg, err := loadConfigOrDefault(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sched, _, err := buildScheduler(cfg)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := sched.RetryErrors(ctx)
	if err != nil {
		return fmt.Errorf("retry-errors failed after moving %d job(s): %w", n, err)
	}
	fmt.Printf("moved %d job(s) from error queues back to their primary queue\n", n)
	return nil
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildScheduler wires a PrioritizingJobScheduler from cfg: one
// JobScheduler per configured priority level, each with its own
// primary/error JobQueue pair and a shared bad job sink and metrics
// collector.
func buildScheduler(cfg *config.Config) (*priority.PrioritizingJobScheduler, *metrics.Collector, error) {
	mc := metrics.NewCollector()

	var sink badsink.Sink
	if cfg.BadSink.Enabled {
		fs, err := badsink.NewFileSink(cfg.BadSink.Path, "dead")
		if err != nil {
			return nil, nil, fmt.Errorf("build bad sink: %w", err)
		}
		sink = fs
	}

	p := priority.New()
	for level, pc := range cfg.Priorities {
		name := fmt.Sprintf("p%d", level)

		primaryQueue, err := buildQueue(cfg.JobQueue, name+"-primary")
		if err != nil {
			return nil, nil, err
		}
		errorQueue, err := buildQueue(cfg.ErrorQueue, name+"-error")
		if err != nil {
			return nil, nil, err
		}

		s := scheduler.New(scheduler.Config{
			Name:           name,
			ThreadCount:    pc.ThreadCount,
			StrobeInterval: pc.StrobeInterval,
			JitterRate:     pc.JitterRate,
			ErrorLimit:     pc.ErrorLimit,
			FlushLimit:     pc.FlushLimit,
			ErrorDelay:     pc.ErrorDelay,
			RunWhilePaused: pc.RunWhilePaused,
		}, primaryQueue, errorQueue, sink, mc)

		p.Update(level, s)
	}

	return p, mc, nil
}

func buildQueue(qc config.QueueConfig, name string) (queue.JobQueue, error) {
	switch qc.Type {
	case "durable":
		d, err := queue.NewDurable(qc.Path, name, codec.JSON{}, defaultRehydrate, qc.BufferSize, qc.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("build durable queue %s: %w", name, err)
		}
		return d, nil
	case "memory":
		return queue.NewMemory(name, qc.SizeLimit), nil
	default:
		return nil, fmt.Errorf("build queue %s: unknown queue type %q, must be \"durable\" or \"memory\"", name, qc.Type)
	}
}

// defaultRehydrate reattaches the demo Execute closure to a replayed
// or journaled record, since a job.Execute closure can't itself survive
// a round trip through the journal.
func defaultRehydrate(rec job.Record) (job.Job, error) {
	return job.Job{
		ID:           rec.ID,
		Payload:      rec.Payload,
		ErrorCount:   rec.ErrorCount,
		ErrorMessage: rec.ErrorMessage,
		EnqueuedAt:   time.UnixMilli(rec.EnqueuedAtMs),
		Execute:      demoExecute,
	}, nil
}
