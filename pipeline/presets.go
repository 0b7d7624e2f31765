package pipeline

import (
	"fmt"

	"github.com/gdgeek/3D-Model-Optimizer/pipeline/draco"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/join"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/prune"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/simplify"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/texture"
)

// Preset names accepted by Preset.
const (
	PresetFast     = "fast"
	PresetBalanced = "balanced"
	PresetMaximum  = "maximum"
)

// Preset returns the options composed by a named preset configuration.
//
// Parameters:
//   - name: one of "fast", "balanced", "maximum"
//
// Returns:
//   - Options: the preset's composed options
//   - error: error for an unknown preset name
func Preset(name string) (Options, error) {
	switch name {
	case PresetFast:
		return Options{
			Clean: prune.Options{Enabled: true},
			Draco: draco.Options{Enabled: true, CompressionLevel: intp(3)},
		}, nil
	case PresetBalanced:
		return Options{
			Clean:    prune.Options{Enabled: true},
			Merge:    join.Options{Enabled: true},
			Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(0.75)},
			Draco:    draco.Options{Enabled: true, CompressionLevel: intp(7)},
			Texture:  texture.Options{Enabled: true, Mode: string(texture.ModeETC1S), Quality: intp(128)},
		}, nil
	case PresetMaximum:
		return Options{
			Clean:    prune.Options{Enabled: true},
			Merge:    join.Options{Enabled: true},
			Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(0.5), Error: floatp(0.02)},
			Draco:    draco.Options{Enabled: true, CompressionLevel: intp(10)},
			Texture:  texture.Options{Enabled: true, Mode: string(texture.ModeETC1S), Quality: intp(80)},
		}, nil
	default:
		return Options{}, fmt.Errorf("unknown preset %q", name)
	}
}

func intp(v int) *int           { return &v }
func floatp(v float32) *float32 { return &v }
