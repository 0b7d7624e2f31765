package pipeline

import (
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/draco"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/join"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/prune"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/quantize"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/simplify"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/texture"
)

// Options is the full pipeline configuration: one group per optional step.
// The two repair phases run unconditionally and have no options. The zero
// value disables every optional step.
type Options struct {
	Clean    prune.Options    `json:"clean,omitempty" yaml:"clean,omitempty"`
	Merge    join.Options     `json:"merge,omitempty" yaml:"merge,omitempty"`
	Simplify simplify.Options `json:"simplify,omitempty" yaml:"simplify,omitempty"`
	Quantize quantize.Options `json:"quantize,omitempty" yaml:"quantize,omitempty"`
	Draco    draco.Options    `json:"draco,omitempty" yaml:"draco,omitempty"`
	Texture  texture.Options  `json:"texture,omitempty" yaml:"texture,omitempty"`
}
