// Package pipeline sequences the optimization steps over a single in-memory
// glTF document: repair-input, clean, merge, simplify, quantize, draco,
// texture, repair-output. The two repair phases are unconditional; every
// other step runs only when enabled. Steps execute strictly in order, each
// mutating the sole document in place; a failed step halts the pipeline and
// no output file is written.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/draco"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/join"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/prune"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/quantize"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/sanitize"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/simplify"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/texture"
)

// Step names in their fixed execution order.
const (
	StepRepairInput  = "repair-input"
	StepClean        = "clean"
	StepMerge        = "merge"
	StepSimplify     = "simplify"
	StepQuantize     = "quantize"
	StepDraco        = "draco"
	StepTexture      = "texture"
	StepRepairOutput = "repair-output"
	// StepWrite names the serialization stage in failure reports; it is not
	// a pipeline step and never appears in a successful result's step list.
	StepWrite = "write"
)

// Pipeline executes optimization runs. A single Pipeline is safe for
// concurrent use: each Execute call owns its document exclusively.
type Pipeline struct {
	logger     *zap.Logger
	compressor *texture.Compressor
	urlPrefix  string
}

// Option is a functional option for configuring a Pipeline via New.
type Option func(*Pipeline)

// WithLogger is an option builder that sets the structured logger.
//
// Parameters:
//   - l: the zap logger instance
//
// Returns:
//   - Option: a function that applies the logger to a Pipeline
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithTextureCompressor is an option builder that replaces the texture
// compressor, letting hosts inject their own KTX2 encoder.
//
// Parameters:
//   - c: the texture compressor instance
//
// Returns:
//   - Option: a function that applies the compressor to a Pipeline
func WithTextureCompressor(c *texture.Compressor) Option {
	return func(p *Pipeline) {
		p.compressor = c
	}
}

// WithDownloadURLPrefix is an option builder that sets the prefix of the
// download URL reported in results; the task id is appended to it.
//
// Parameters:
//   - prefix: the URL prefix, e.g. "/download/"
//
// Returns:
//   - Option: a function that applies the prefix to a Pipeline
func WithDownloadURLPrefix(prefix string) Option {
	return func(p *Pipeline) {
		p.urlPrefix = prefix
	}
}

// New creates a Pipeline with the given options applied.
//
// Parameters:
//   - options: a variadic list of Option functions
//
// Returns:
//   - *Pipeline: the configured pipeline
func New(options ...Option) *Pipeline {
	p := &Pipeline{
		logger:    zap.NewNop(),
		urlPrefix: "/download/",
	}
	for _, option := range options {
		option(p)
	}
	if p.compressor == nil {
		p.compressor = texture.NewCompressor()
	}
	return p
}

// Execute runs the full pipeline: read, repair-input, the enabled steps,
// repair-output, write.
//
// Parameters:
//   - ctx: cancels the run at the next step boundary
//   - inputPath: the source .glb or .gltf file
//   - outputPath: the destination .glb file; not written on failure
//   - opts: the full step configuration
//   - sink: optional progress callback; may be nil
//
// Returns:
//   - *Result: the run outcome, populated on success and failure alike
//   - error: the structured pipeline error on failure, nil on success
func (p *Pipeline) Execute(ctx context.Context, inputPath, outputPath string, opts Options, sink ProgressSink) (*Result, error) {
	start := time.Now()
	result := &Result{
		TaskID: uuid.NewString(),
		Steps:  []StepResult{},
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return p.fail(result, start, &Error{Kind: KindInvalidFile, Err: err})
	}
	result.OriginalSize = info.Size()

	p.logger.Info("pipeline started",
		zap.String("taskId", result.TaskID),
		zap.String("input", inputPath),
		zap.Int64("inputBytes", result.OriginalSize),
	)

	doc, err := gltf.Read(inputPath)
	if err != nil {
		return p.fail(result, start, &Error{Kind: KindInvalidFile, Err: err})
	}

	steps := p.buildSteps(doc, opts)
	total := len(steps)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			result.FailedStep = step.name
			return p.fail(result, start, &Error{Kind: KindCancelled, Step: step.name, Err: err})
		}

		if sink != nil {
			sink(ProgressEvent{Step: step.name, Status: ProgressStart, Index: i, Total: total})
		}

		stepStart := time.Now()
		stats, err := step.run(ctx)
		duration := time.Since(stepStart).Milliseconds()

		if err != nil {
			perr := stepFailed(step.name, err)
			result.Steps = append(result.Steps, StepResult{
				Step:       step.name,
				Success:    false,
				DurationMS: duration,
				Error:      perr.Error(),
			})
			result.FailedStep = step.name
			if sink != nil {
				sink(ProgressEvent{Step: step.name, Status: ProgressError, Index: i, Total: total, DurationMS: duration, Error: perr.Error()})
			}
			p.logger.Warn("step failed",
				zap.String("taskId", result.TaskID),
				zap.String("step", step.name),
				zap.Error(perr),
			)
			return p.fail(result, start, perr)
		}

		result.Steps = append(result.Steps, StepResult{
			Step:       step.name,
			Success:    true,
			DurationMS: duration,
			Stats:      stats,
		})
		if sink != nil {
			sink(ProgressEvent{Step: step.name, Status: ProgressDone, Index: i, Total: total, DurationMS: duration})
		}
		p.logger.Debug("step completed",
			zap.String("taskId", result.TaskID),
			zap.String("step", step.name),
			zap.Int64("durationMs", duration),
		)
	}

	if err := gltf.Write(outputPath, doc); err != nil {
		result.FailedStep = StepWrite
		return p.fail(result, start, &Error{Kind: KindWriteFailed, Step: StepWrite, Err: err})
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.OptimizedSize = info.Size()
	}
	result.Success = true
	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	result.CompressionRatio = 1
	if result.OriginalSize > 0 {
		result.CompressionRatio = float64(result.OptimizedSize) / float64(result.OriginalSize)
	}
	result.DownloadURL = p.urlPrefix + result.TaskID

	p.logger.Info("pipeline finished",
		zap.String("taskId", result.TaskID),
		zap.Int64("durationMs", result.ProcessingTimeMS),
		zap.Int64("outputBytes", result.OptimizedSize),
		zap.Float64("compressionRatio", result.CompressionRatio),
	)
	return result, nil
}

func (p *Pipeline) fail(result *Result, start time.Time, perr *Error) (*Result, error) {
	result.Success = false
	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	result.Error = perr.Error()
	return result, perr
}

// step binds a name to its runner.
type step struct {
	name string
	run  func(ctx context.Context) (any, error)
}

// buildSteps assembles the fixed-order step list: the repair phases always,
// the optimization steps when enabled. Option validation happens inside each
// step's runner so a violation is attributed to that step's slot in the
// sequence.
func (p *Pipeline) buildSteps(doc *gltf.Document, opts Options) []step {
	steps := []step{{
		name: StepRepairInput,
		run: func(ctx context.Context) (any, error) {
			return sanitize.RepairInput(doc)
		},
	}}

	if opts.Clean.Enabled {
		steps = append(steps, step{StepClean, func(ctx context.Context) (any, error) {
			return prune.Apply(doc, opts.Clean)
		}})
	}
	if opts.Merge.Enabled {
		steps = append(steps, step{StepMerge, func(ctx context.Context) (any, error) {
			return join.Apply(doc, opts.Merge)
		}})
	}
	if opts.Simplify.Enabled {
		steps = append(steps, step{StepSimplify, func(ctx context.Context) (any, error) {
			if err := validateSimplify(opts.Simplify); err != nil {
				return nil, err
			}
			return simplify.Apply(doc, opts.Simplify)
		}})
	}
	if opts.Quantize.Enabled {
		steps = append(steps, step{StepQuantize, func(ctx context.Context) (any, error) {
			return quantize.Apply(doc, opts.Quantize)
		}})
	}
	if opts.Draco.Enabled {
		steps = append(steps, step{StepDraco, func(ctx context.Context) (any, error) {
			if err := validateDraco(opts.Draco); err != nil {
				return nil, err
			}
			return draco.Apply(doc, opts.Draco)
		}})
	}
	if opts.Texture.Enabled {
		steps = append(steps, step{StepTexture, func(ctx context.Context) (any, error) {
			if err := validateTexture(opts.Texture); err != nil {
				return nil, err
			}
			return p.compressor.Apply(ctx, doc, opts.Texture)
		}})
	}

	steps = append(steps, step{
		name: StepRepairOutput,
		run: func(ctx context.Context) (any, error) {
			return sanitize.RepairOutput(doc)
		},
	})
	return steps
}

// Execute runs a pipeline with default configuration. It is the package's
// convenience entry point for hosts that need no customization.
//
// Parameters:
//   - ctx: cancels the run at the next step boundary
//   - inputPath: the source .glb or .gltf file
//   - outputPath: the destination .glb file
//   - opts: the full step configuration
//   - sink: optional progress callback; may be nil
//
// Returns:
//   - *Result: the run outcome
//   - error: the structured pipeline error on failure, nil on success
func Execute(ctx context.Context, inputPath, outputPath string, opts Options, sink ProgressSink) (*Result, error) {
	return New().Execute(ctx, inputPath, outputPath, opts, sink)
}
