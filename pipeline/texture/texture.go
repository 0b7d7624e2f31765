// Package texture re-encodes material textures as KTX2 (ETC1S or UASTC)
// through an external encoder, falling back to a compact JPEG re-encode when
// no KTX2 toolchain is present. Per-texture work is independent and fans out
// over a bounded worker group.
package texture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Options configures the texture step.
type Options struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Mode    string   `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=ETC1S UASTC"`
	Quality *int     `json:"quality,omitempty" yaml:"quality,omitempty"`
	Slots   []string `json:"slots,omitempty" yaml:"slots,omitempty"`
	// MaxSize caps the larger image dimension; bigger textures are downscaled
	// before encoding. Unset means no cap; a set value must be positive.
	MaxSize *int `json:"maxSize,omitempty" yaml:"maxSize,omitempty" validate:"omitnil,gt=0"`
}

// Default qualities per mode.
const (
	DefaultETC1SQuality = 128
	DefaultUASTCQuality = 2
)

// EffectiveMode returns the configured mode, defaulting to ETC1S.
func (o Options) EffectiveMode() Mode {
	if o.Mode == string(ModeUASTC) {
		return ModeUASTC
	}
	return ModeETC1S
}

// EffectiveQuality returns the configured quality or the mode default.
func (o Options) EffectiveQuality() int {
	if o.Quality != nil {
		return *o.Quality
	}
	if o.EffectiveMode() == ModeUASTC {
		return DefaultUASTCQuality
	}
	return DefaultETC1SQuality
}

// Detail reports one processed texture.
type Detail struct {
	Name           string `json:"name"`
	OriginalFormat string `json:"originalFormat"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
}

// Stats reports the aggregate texture compression result. Method names the
// encoder that ran: "ktx2" or "jpeg-fallback".
type Stats struct {
	TexturesProcessed int      `json:"texturesProcessed"`
	OriginalSize      int      `json:"originalSize"`
	CompressedSize    int      `json:"compressedSize"`
	CompressionRatio  float64  `json:"compressionRatio"`
	Method            string   `json:"method"`
	Details           []Detail `json:"details"`
}

// maxConcurrentEncodes bounds the per-step encoder fan-out.
const maxConcurrentEncodes = 4

// Compressor drives the texture step. The zero value is not usable; call
// NewCompressor.
type Compressor struct {
	encoder KTX2Encoder
}

// CompressorOption is a functional option for configuring a Compressor.
type CompressorOption func(*Compressor)

// WithEncoder is an option builder that replaces the KTX2 encoder, primarily
// for tests and hosts embedding their own toolchain.
//
// Parameters:
//   - enc: the encoder implementation
//
// Returns:
//   - CompressorOption: a function that applies the encoder to a Compressor
func WithEncoder(enc KTX2Encoder) CompressorOption {
	return func(c *Compressor) {
		c.encoder = enc
	}
}

// NewCompressor creates a texture compressor. By default it resolves the
// toktx binary from PATH and falls back to JPEG re-encoding when absent.
//
// Parameters:
//   - options: a variadic list of CompressorOption functions
//
// Returns:
//   - *Compressor: the configured compressor
func NewCompressor(options ...CompressorOption) *Compressor {
	c := &Compressor{encoder: newToktxEncoder()}
	for _, option := range options {
		option(c)
	}
	return c
}

// Apply re-encodes the selected textures in place. Documents with no
// eligible textures return zero stats and no error.
//
// Parameters:
//   - ctx: cancels in-flight encoder subprocesses
//   - doc: the document whose textures are rewritten
//   - opts: validated step options
//
// Returns:
//   - *Stats: aggregate and per-texture results
//   - error: error if any texture fails to encode
func (c *Compressor) Apply(ctx context.Context, doc *gltf.Document, opts Options) (*Stats, error) {
	targets := c.selectTextures(doc, opts)
	stats := &Stats{Details: []Detail{}}
	if len(targets) == 0 {
		return stats, nil
	}

	useKTX2 := c.encoder != nil && c.encoder.Available()
	if useKTX2 {
		stats.Method = "ktx2"
	} else {
		stats.Method = "jpeg-fallback"
	}

	params := encodeParams{mode: opts.EffectiveMode(), quality: opts.EffectiveQuality()}

	type outcome struct {
		detail Detail
		data   []byte
		mime   string
	}
	outcomes := make([]outcome, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEncodes)
	for i, tex := range targets {
		g.Go(func() error {
			source := tex.Data
			ext := extensionFor(tex.MimeType)

			if opts.MaxSize != nil {
				scaled, changed, err := downscale(source, *opts.MaxSize)
				if err != nil {
					return fmt.Errorf("texture %q: %w", tex.Name, err)
				}
				if changed {
					source, ext = scaled, ".png"
				}
			}

			var encoded []byte
			var mime string
			var err error
			if useKTX2 {
				if tex.MimeType == "image/webp" && ext != ".png" {
					// The external encoder reads PNG and JPEG only.
					source, err = transcodePNG(source)
					if err != nil {
						return fmt.Errorf("texture %q: %w", tex.Name, err)
					}
					ext = ".png"
				}
				encoded, err = c.encoder.Encode(gctx, source, ext, params)
				mime = "image/ktx2"
			} else {
				encoded, err = fallbackEncode(source, params)
				mime = "image/jpeg"
			}
			if err != nil {
				return fmt.Errorf("texture %q: %w", tex.Name, err)
			}

			// The shrink-or-equal contract: keep the original bytes when the
			// re-encode came out larger.
			if len(encoded) >= len(tex.Data) {
				encoded = tex.Data
				mime = tex.MimeType
			}

			outcomes[i] = outcome{
				detail: Detail{
					Name:           textureName(tex, i),
					OriginalFormat: tex.MimeType,
					OriginalSize:   len(tex.Data),
					CompressedSize: len(encoded),
				},
				data: encoded,
				mime: mime,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ktx2Seen := false
	for i, tex := range targets {
		o := outcomes[i]
		tex.Data = o.data
		tex.MimeType = o.mime
		if o.mime == "image/ktx2" {
			ktx2Seen = true
		}

		stats.TexturesProcessed++
		stats.OriginalSize += o.detail.OriginalSize
		stats.CompressedSize += o.detail.CompressedSize
		stats.Details = append(stats.Details, o.detail)
	}
	if stats.OriginalSize > 0 {
		stats.CompressionRatio = float64(stats.CompressedSize) / float64(stats.OriginalSize)
	}
	if ktx2Seen {
		doc.MarkExtension(gltf.ExtTextureBasisU, true)
	}

	doc.InvalidateRefs()
	return stats, nil
}

// selectTextures returns the textures to process: those reachable through
// one of the named material slots when a slot filter is configured, all
// re-encodable textures otherwise.
func (c *Compressor) selectTextures(doc *gltf.Document, opts Options) []*gltf.Texture {
	var candidates []*gltf.Texture
	if len(opts.Slots) == 0 {
		candidates = doc.Textures
	} else {
		seen := make(map[*gltf.Texture]bool)
		for _, m := range doc.Materials {
			for _, slot := range opts.Slots {
				if ref := m.SlotRef(slot); ref != nil && ref.Texture != nil && !seen[ref.Texture] {
					seen[ref.Texture] = true
					candidates = append(candidates, ref.Texture)
				}
			}
		}
	}

	var out []*gltf.Texture
	for _, t := range candidates {
		switch t.MimeType {
		case "image/png", "image/jpeg", "image/webp":
			if len(t.Data) > 0 {
				out = append(out, t)
			}
		}
	}
	return out
}

func textureName(t *gltf.Texture, index int) string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("texture_%d", index)
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	default:
		return ".png"
	}
}

// transcodePNG re-encodes arbitrary image bytes as PNG.
func transcodePNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fallbackEncode re-encodes the image as JPEG with the quality mapped from
// the KTX2 scale onto the JPEG one.
func fallbackEncode(data []byte, params encodeParams) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: fallbackQuality(params)}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fallbackQuality maps ETC1S quality (1-255) onto JPEG 30-90 and UASTC
// quality (0-4) onto 60-92.
func fallbackQuality(params encodeParams) int {
	if params.mode == ModeUASTC {
		return 60 + params.quality*8
	}
	return 30 + params.quality*60/255
}

// downscale caps the image's larger dimension at maxSize using Catmull-Rom
// resampling. The scaled intermediate is PNG so no extra lossy generation is
// introduced before the real encode. The boolean reports whether scaling
// happened.
func downscale(data []byte, maxSize int) ([]byte, bool, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSize && h <= maxSize {
		return data, false, nil
	}

	scale := float64(maxSize) / float64(w)
	if h > w {
		scale = float64(maxSize) / float64(h)
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, false, fmt.Errorf("failed to encode downscaled image: %w", err)
	}
	return buf.Bytes(), true, nil
}
