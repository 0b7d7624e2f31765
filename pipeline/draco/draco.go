// Package draco attaches draco-style geometry compression to triangle
// primitives. The step itself only records per-primitive settings and a size
// estimate; the byte-level encode runs at document write time through the
// process-wide encoder registered with the gltf package. That encoder
// quantizes attributes and delta-codes the index stream before a zstd stage;
// it performs no edgebreaker connectivity traversal.
package draco

import (
	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Options configures the draco step. Quantization bits apply per attribute
// class; the compression level trades encode speed for ratio.
type Options struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	CompressionLevel *int `json:"compressionLevel,omitempty" yaml:"compressionLevel,omitempty" validate:"omitnil,gte=0,lte=10"`
	QuantizePosition *int `json:"quantizePosition,omitempty" yaml:"quantizePosition,omitempty" validate:"omitnil,gte=1,lte=30"`
	QuantizeNormal   *int `json:"quantizeNormal,omitempty" yaml:"quantizeNormal,omitempty" validate:"omitnil,gte=1,lte=30"`
	QuantizeTexcoord *int `json:"quantizeTexcoord,omitempty" yaml:"quantizeTexcoord,omitempty" validate:"omitnil,gte=1,lte=30"`
}

// Defaults for the draco step.
const (
	DefaultCompressionLevel = 7
	DefaultPositionBits     = 14
	DefaultNormalBits       = 10
	DefaultTexcoordBits     = 12
	DefaultColorBits        = 8
	DefaultGenericBits      = 12
)

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Level returns the configured compression level or the default.
func (o Options) Level() int { return orDefault(o.CompressionLevel, DefaultCompressionLevel) }

// Stats reports the compression estimate for the step. True compressed sizes
// require the encode pass that runs at write time, so CompressedSize is an
// estimate derived from geometry volume and level; it shrinks monotonically
// as the level increases on a given input.
type Stats struct {
	MeshesCompressed int     `json:"meshesCompressed"`
	OriginalSize     int     `json:"originalSize"`
	CompressedSize   int     `json:"compressedSize"`
	CompressionRatio float64 `json:"compressionRatio"`
}

// Apply attaches compression settings to every triangle primitive with
// geometry and registers the process-wide encoder for the write stage.
//
// Parameters:
//   - doc: the document to mark for compression
//   - opts: validated step options
//
// Returns:
//   - *Stats: the estimated compression result
//   - error: currently always nil
func Apply(doc *gltf.Document, opts Options) (*Stats, error) {
	level := opts.Level()
	speed := 10 - level

	settings := &gltf.DracoSettings{
		PositionBits: orDefault(opts.QuantizePosition, DefaultPositionBits),
		NormalBits:   orDefault(opts.QuantizeNormal, DefaultNormalBits),
		TexcoordBits: orDefault(opts.QuantizeTexcoord, DefaultTexcoordBits),
		ColorBits:    DefaultColorBits,
		GenericBits:  DefaultGenericBits,
		EncodeSpeed:  speed,
		DecodeSpeed:  speed,
	}

	stats := &Stats{}
	for _, prim := range doc.Primitives() {
		if prim.Mode != gltf.ModeTriangles || prim.Position() == nil {
			continue
		}
		s := *settings
		prim.Draco = &s
		stats.MeshesCompressed++
		stats.OriginalSize += primitiveGeometryBytes(prim)
	}

	stats.CompressedSize = estimateCompressedSize(stats.OriginalSize, level)
	if stats.OriginalSize > 0 {
		stats.CompressionRatio = float64(stats.CompressedSize) / float64(stats.OriginalSize)
	}

	if stats.MeshesCompressed > 0 {
		doc.MarkExtension(gltf.ExtDracoMeshCompression, true)
		gltf.RegisterDracoEncoder(Default())
	}
	return stats, nil
}

func primitiveGeometryBytes(p *gltf.Primitive) int {
	total := 0
	for _, a := range p.Attributes {
		total += a.ByteLength()
	}
	if p.Indices != nil {
		total += p.Indices.ByteLength()
	}
	return total
}

// estimateCompressedSize derives the reported compressed size from the
// geometry volume with a fixed per-level ratio. The ratio decreases linearly
// with level, which keeps the estimate monotone in level by construction.
func estimateCompressedSize(originalSize, level int) int {
	ratio := 0.42 - 0.025*float64(level)
	return int(float64(originalSize) * ratio)
}
