// Command optimizer runs the glTF optimization pipeline over a single asset:
//
//	optimizer input.glb output.glb --preset balanced
//	optimizer input.glb output.glb --options config.yaml --verbose
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/gdgeek/3D-Model-Optimizer/pipeline"
)

var (
	logger *zap.Logger

	flagPreset      string
	flagOptionsFile string
	flagVerbose     bool
	flagJSON        bool

	flagClean         bool
	flagMerge         bool
	flagSimplifyRatio float32
	flagDracoLevel    int
	flagTextureMode   string
	flagQuantize      bool
)

var rootCmd = &cobra.Command{
	Use:   "optimizer <input> <output>",
	Short: "Optimize a glTF binary asset",
	Long: `optimizer ingests a glTF 2.0 binary asset (.glb) and produces a
semantically equivalent but smaller, GPU-friendlier .glb.

The pipeline welds and simplifies meshes, quantizes vertex attributes,
applies Draco geometry compression, re-encodes textures as KTX2 and prunes
unreferenced resources, bracketed by a two-phase geometry sanitizer.`,
	Args: cobra.ExactArgs(2),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if flagVerbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&flagPreset, "preset", "", "preset configuration: fast, balanced or maximum")
	rootCmd.Flags().StringVar(&flagOptionsFile, "options", "", "YAML file with the full options document")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&flagJSON, "json", false, "print the run result as JSON")

	rootCmd.Flags().BoolVar(&flagClean, "clean", false, "remove unreferenced resources")
	rootCmd.Flags().BoolVar(&flagMerge, "merge", false, "merge primitives by material")
	rootCmd.Flags().Float32Var(&flagSimplifyRatio, "simplify-ratio", 0, "simplify meshes to this triangle ratio (0 disables)")
	rootCmd.Flags().IntVar(&flagDracoLevel, "draco", -1, "apply draco compression at this level (0-10, -1 disables)")
	rootCmd.Flags().StringVar(&flagTextureMode, "texture", "", "compress textures: ETC1S or UASTC")
	rootCmd.Flags().BoolVar(&flagQuantize, "quantize", false, "quantize vertex attributes")
}

func run(cmd *cobra.Command, args []string) error {
	input, output := args[0], args[1]

	opts, err := composeOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := progressPrinter(cmd)
	if flagJSON {
		sink = nil
	}

	p := pipeline.New(pipeline.WithLogger(logger))
	result, runErr := p.Execute(ctx, input, output, opts, sink)

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(cmd, result)
	}

	if runErr != nil {
		// The summary above already carries the failure detail.
		cmd.SilenceUsage = true
		return fmt.Errorf("optimization failed at step %q", result.FailedStep)
	}
	return nil
}

// composeOptions layers the configuration sources: preset, then YAML file,
// then individual flags.
func composeOptions() (pipeline.Options, error) {
	var opts pipeline.Options

	if flagPreset != "" {
		preset, err := pipeline.Preset(flagPreset)
		if err != nil {
			return opts, err
		}
		opts = preset
	}

	if flagOptionsFile != "" {
		data, err := os.ReadFile(flagOptionsFile)
		if err != nil {
			return opts, fmt.Errorf("failed to read options file: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("failed to parse options file: %w", err)
		}
	}

	if flagClean {
		opts.Clean.Enabled = true
	}
	if flagMerge {
		opts.Merge.Enabled = true
	}
	if flagSimplifyRatio > 0 {
		ratio := flagSimplifyRatio
		opts.Simplify.Enabled = true
		opts.Simplify.TargetRatio = &ratio
		opts.Simplify.TargetCount = nil
	}
	if flagDracoLevel >= 0 {
		level := flagDracoLevel
		opts.Draco.Enabled = true
		opts.Draco.CompressionLevel = &level
	}
	if flagTextureMode != "" {
		opts.Texture.Enabled = true
		opts.Texture.Mode = flagTextureMode
	}
	if flagQuantize {
		opts.Quantize.Enabled = true
	}

	return opts, nil
}

func progressPrinter(cmd *cobra.Command) pipeline.ProgressSink {
	return func(e pipeline.ProgressEvent) {
		switch e.Status {
		case pipeline.ProgressStart:
			fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s...\n", e.Index+1, e.Total, e.Step)
		case pipeline.ProgressDone:
			fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s done (%d ms)\n", e.Index+1, e.Total, e.Step, e.DurationMS)
		case pipeline.ProgressError:
			fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s failed: %s\n", e.Index+1, e.Total, e.Step, e.Error)
		}
	}
}

func printSummary(cmd *cobra.Command, result *pipeline.Result) {
	out := cmd.OutOrStdout()
	if result.Success {
		fmt.Fprintf(out, "\nOptimized in %d ms: %d -> %d bytes (%.1f%%)\n",
			result.ProcessingTimeMS, result.OriginalSize, result.OptimizedSize,
			result.CompressionRatio*100)
		return
	}
	fmt.Fprintf(out, "\nFailed at step %q: %s\n", result.FailedStep, result.Error)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
