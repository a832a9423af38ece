package process

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/cpuspec"
	"github.com/tphakala/heapbridge/internal/logging"
	"github.com/tphakala/heapbridge/internal/observability"
	"github.com/tphakala/heapbridge/internal/pipeline"
	"github.com/tphakala/heapbridge/internal/wasmhost"
)

// Command creates the process command for streaming audio files through the native module
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [input...]",
		Short: "Process audio files through the native module",
		Long: `Stream WAV or FLAC files through the native module's compute export.
Directories are searched recursively for audio files. Each result is written
as WAV into the output directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, conf.Setting(), args, cmd.OutOrStdout())
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the process command
func setupFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "Path to output directory")
	cmd.Flags().IntP("workers", "w", 0, "Files processed concurrently, 0 selects from the CPU")
	cmd.Flags().IntP("block-size", "b", 0, "Frames per block handed to the module")

	_ = viper.BindPFlag("process.outputdir", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("process.workers", cmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("process.blocksize", cmd.Flags().Lookup("block-size"))
}

func run(ctx context.Context, settings *conf.Settings, args []string, out io.Writer) error {
	logger := logging.ForService("process")
	if logger == nil {
		logger = slog.Default()
	}

	inputs, err := expandInputs(args)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no WAV or FLAC files found in %v", args)
	}

	processSettings := settings.Process
	processSettings.OutputDir, err = conf.GetBasePath(processSettings.OutputDir)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	var wg sync.WaitGroup
	quit := make(chan struct{})
	defer func() {
		close(quit)
		wg.Wait()
	}()

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return err
		}
		if err := endpoint.Start(&wg, quit); err != nil {
			return err
		}
	}

	host, err := wasmhost.NewHost(ctx, settings.Module,
		wasmhost.WithCallObserver(metrics.Heap))
	if err != nil {
		return err
	}
	defer func() {
		if err := host.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close native runtime", "error", err)
		}
	}()

	workers := settings.Process.Workers
	if workers == 0 {
		spec := cpuspec.Detect()
		workers = spec.OptimalWorkers()
		logger.Debug("selected worker count from CPU",
			"cpu", spec.BrandName,
			"performance_cores", spec.PerformanceCores,
			"workers", workers)
	}
	workers = min(workers, len(inputs))

	runner := pipeline.NewRunner(host, processSettings,
		pipeline.WithWorkers(workers),
		pipeline.WithRecorder(metrics.Heap),
		pipeline.WithObserver(metrics.Pipeline))

	logger.Info("processing files",
		"files", len(inputs),
		"workers", workers,
		"module", settings.Module.Path,
		"output_dir", processSettings.OutputDir)

	results, err := runner.ProcessFiles(ctx, inputs)
	printResults(out, results)
	return err
}

// printResults writes one line per finished file
func printResults(out io.Writer, results []pipeline.Result) {
	upper := cases.Upper(language.Und)
	for _, res := range results {
		if res.Output == "" {
			continue
		}
		fmt.Fprintf(out, "%s -> %s (%s, %d ch, %d Hz, %d frames, %d blocks, %s)\n",
			res.Input, res.Output, upper.String(string(res.Info.Format)),
			res.Info.Channels, res.Info.SampleRate,
			res.Frames, res.Blocks, res.Elapsed.Round(time.Millisecond))
	}
}

// expandInputs resolves directories to the audio files inside them
func expandInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("error accessing input %s: %w", arg, err)
		}
		if !info.IsDir() {
			inputs = append(inputs, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, err := pipeline.FormatFromPath(path); err == nil {
				inputs = append(inputs, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error walking directory %s: %w", arg, err)
		}
	}

	slices.Sort(inputs)
	return slices.Compact(inputs), nil
}
