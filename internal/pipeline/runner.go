package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/heap"
	"github.com/tphakala/heapbridge/internal/logging"
	"github.com/tphakala/heapbridge/internal/wasmhost"
)

// bufferedBlocks is how many blocks the framer can hold before emitting
const bufferedBlocks = 4

// Observer receives pipeline progress, typically for metrics
type Observer interface {
	FileStarted()
	FileFinished(format string, duration time.Duration, err error)
	BlockProcessed(frames int, duration time.Duration)
	AddBufferedBytes(delta int)
	RecordError(stage string)
}

type noopObserver struct{}

func (noopObserver) FileStarted()                              {}
func (noopObserver) FileFinished(string, time.Duration, error) {}
func (noopObserver) BlockProcessed(int, time.Duration)         {}
func (noopObserver) AddBufferedBytes(int)                      {}
func (noopObserver) RecordError(string)                        {}

// Stage names passed to Observer.RecordError
const (
	StageDecode  = "decode"
	StageStage   = "stage"
	StageProcess = "process"
	StageEncode  = "encode"
)

// Result summarizes one processed file
type Result struct {
	Input     string
	Output    string
	Info      AudioInfo
	Frames    int64
	Blocks    int
	ManagerID string
	Elapsed   time.Duration
}

// Runner streams audio files through instances of the host's module
type Runner struct {
	host     *wasmhost.Host
	settings conf.ProcessSettings
	workers  int
	recorder heap.Recorder
	observer Observer
	logger   *slog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithRecorder sets the region lifecycle recorder given to each file's manager
func WithRecorder(recorder heap.Recorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = recorder
	}
}

// WithObserver sets the pipeline progress observer
func WithObserver(observer Observer) RunnerOption {
	return func(r *Runner) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// WithLogger sets the runner logger
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWorkers overrides the number of files processed concurrently
func WithWorkers(workers int) RunnerOption {
	return func(r *Runner) {
		if workers > 0 {
			r.workers = workers
		}
	}
}

// NewRunner creates a Runner. A zero settings.Workers processes one file at a
// time unless WithWorkers supplies a count.
func NewRunner(host *wasmhost.Host, settings conf.ProcessSettings, opts ...RunnerOption) *Runner {
	logger := logging.ForService(ComponentPipeline)
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		host:     host,
		settings: settings,
		workers:  max(settings.Workers, 1),
		observer: noopObserver{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessFiles processes inputs concurrently, stopping at the first failure.
// Results are returned in input order; entries for files that did not finish
// are zero.
func (r *Runner) ProcessFiles(ctx context.Context, inputs []string) ([]Result, error) {
	if err := r.checkOutputs(inputs); err != nil {
		return nil, err
	}

	results := make([]Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, input := range inputs {
		g.Go(func() error {
			res, err := r.ProcessFile(gctx, input)
			if err != nil {
				r.logger.Error("file processing failed", append([]any{"input", input}, errors.LogAttrs(err)...)...)
				return err
			}
			results[i] = res
			return nil
		})
	}

	return results, g.Wait()
}

// ProcessFile streams one file through a fresh module instance and region
// manager, writing the result as WAV into the configured output directory.
func (r *Runner) ProcessFile(ctx context.Context, input string) (result Result, err error) {
	start := time.Now()
	r.observer.FileStarted()
	format := "unknown"
	defer func() {
		r.observer.FileFinished(format, time.Since(start), err)
	}()

	output := conf.OutputPath(r.settings.OutputDir, input)
	if err := checkOutput(input, output); err != nil {
		r.observer.RecordError(StageEncode)
		return Result{}, err
	}

	// Decoding starts while the module loads; the manager becomes ready
	// from the loader goroutine.
	mgr := heap.NewManager(heap.WithRecorder(r.recorder), heap.WithLogger(r.logger))
	loading := r.host.Load(ctx, func(mod *wasmhost.Module) {
		if bindErr := mgr.Bind(mod); bindErr != nil {
			r.logger.Error("failed to bind region manager", "manager_id", mgr.ID(), "error", bindErr)
		}
	})

	source, err := OpenSource(input, r.settings.BlockSize)
	if err != nil {
		r.observer.RecordError(StageDecode)
		r.discardLoad(loading)
		return Result{}, err
	}
	defer source.Close()

	info := source.Info()
	format = string(info.Format)

	mod, err := loading.Wait(ctx)
	if err != nil {
		r.discardLoad(loading)
		return Result{}, err
	}
	defer func() {
		if closeErr := mod.Close(context.WithoutCancel(ctx)); closeErr != nil {
			r.logger.Warn("failed to close module instance", "error", closeErr)
		}
	}()
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	sink, err := NewWAVSink(output, info)
	if err != nil {
		r.observer.RecordError(StageEncode)
		return Result{}, err
	}

	result = Result{
		Input:     input,
		Output:    output,
		Info:      info,
		ManagerID: mgr.ID(),
	}

	err = r.stream(ctx, source, mod, mgr, sink, &result)
	if closeErr := sink.Close(); closeErr != nil && err == nil {
		r.observer.RecordError(StageEncode)
		err = closeErr
	}
	if err != nil {
		return Result{}, err
	}

	result.Frames = sink.Frames()
	result.Elapsed = time.Since(start)

	r.logger.Info("file processed",
		"input", input,
		"output", output,
		"format", format,
		"channels", info.Channels,
		"sample_rate", info.SampleRate,
		"frames", result.Frames,
		"blocks", result.Blocks,
		"manager_id", result.ManagerID,
		"duration_ms", result.Elapsed.Milliseconds())

	return result, nil
}

func (r *Runner) stream(ctx context.Context, source Source, mod NativeModule, mgr *heap.Manager, sink *WAVSink, result *Result) error {
	info := source.Info()
	frameBytes := info.FrameBytes()
	processor := NewProcessor(mgr, mod, r.settings)
	fr := newFramer(r.settings.BlockSize, frameBytes, bufferedBlocks)

	emit := func(block []byte) error {
		blockStart := time.Now()
		out, err := processor.ProcessBlock(ctx, block, info.Channels)
		if err != nil {
			r.observer.RecordError(classifyStage(err))
			return err
		}
		if err := sink.Write(out); err != nil {
			r.observer.RecordError(StageEncode)
			return err
		}
		result.Blocks++
		r.observer.BlockProcessed(len(block)/frameBytes, time.Since(blockStart))
		return nil
	}

	buffered := 0
	defer func() {
		r.observer.AddBufferedBytes(-buffered)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component(ComponentPipeline).
				Category(errors.CategoryCancellation).
				Context("operation", "stream").
				Build()
		}

		data, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.observer.RecordError(StageDecode)
			return err
		}

		if err := fr.Feed(data, emit); err != nil {
			return err
		}

		r.observer.AddBufferedBytes(fr.Buffered() - buffered)
		buffered = fr.Buffered()
	}

	return fr.Flush(emit)
}

// checkOutputs rejects a batch in which any input would be overwritten or
// two inputs would be written to the same output
func (r *Runner) checkOutputs(inputs []string) error {
	claimed := make(map[string]string, len(inputs))
	for _, input := range inputs {
		output := conf.OutputPath(r.settings.OutputDir, input)
		if err := checkOutput(input, output); err != nil {
			return err
		}

		key, err := filepath.Abs(output)
		if err != nil {
			key = filepath.Clean(output)
		}
		if other, ok := claimed[key]; ok {
			return outputConflict(input, output, fmt.Sprintf("output %s is also written for %s", output, other))
		}
		claimed[key] = input
	}
	return nil
}

// checkOutput rejects an output path that refers to the input itself
func checkOutput(input, output string) error {
	inAbs, inErr := filepath.Abs(input)
	outAbs, outErr := filepath.Abs(output)
	if inErr == nil && outErr == nil && inAbs == outAbs {
		return outputConflict(input, output, "output would overwrite the input")
	}

	inInfo, err := os.Stat(input)
	if err != nil {
		// Missing inputs are reported by the decoder
		return nil
	}
	if outInfo, err := os.Stat(output); err == nil && os.SameFile(inInfo, outInfo) {
		return outputConflict(input, output, "output would overwrite the input")
	}
	return nil
}

func outputConflict(input, output, reason string) error {
	return errors.Newf("%s: %s", input, reason).
		Component(ComponentPipeline).
		Category(errors.CategoryValidation).
		Context("input", input).
		Context("output", output).
		Build()
}

// discardLoad waits for an abandoned load and closes its instance. Loading
// shares the caller's context, so a cancelled caller does not wait long.
func (r *Runner) discardLoad(loading *wasmhost.Loading) {
	<-loading.Done()
	mod, err := loading.Wait(context.Background())
	if err != nil || mod == nil {
		return
	}
	if closeErr := mod.Close(context.Background()); closeErr != nil {
		r.logger.Warn("failed to close discarded module instance", "error", closeErr)
	}
}

// classifyStage maps a block failure to the stage it came from
func classifyStage(err error) string {
	var enhanced *errors.EnhancedError
	if !errors.As(err, &enhanced) {
		return StageProcess
	}
	switch {
	case enhanced.GetComponent() == heap.ComponentHeap:
		return StageStage
	case enhanced.Category == errors.CategoryValidation:
		return StageStage
	default:
		return StageProcess
	}
}
