package texture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

func intp(v int) *int { return &v }

// unavailableEncoder forces the fallback path.
type unavailableEncoder struct{}

func (unavailableEncoder) Available() bool { return false }
func (unavailableEncoder) Encode(context.Context, []byte, string, encodeParams) ([]byte, error) {
	panic("unavailable encoder must not be called")
}

// stubKTX2Encoder returns a fixed tiny payload.
type stubKTX2Encoder struct {
	calls int
}

func (s *stubKTX2Encoder) Available() bool { return true }
func (s *stubKTX2Encoder) Encode(_ context.Context, _ []byte, _ string, _ encodeParams) ([]byte, error) {
	s.calls++
	return []byte{0xAB, 'K', 'T', 'X', ' ', '2', '0', 0xBB}, nil
}

// grain returns deterministic per-pixel, per-channel noise in [-20, 20].
func grain(x, y, c int) float64 {
	h := uint32(x)*73856093 ^ uint32(y)*19349663 ^ uint32(c)*83492791
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return float64(h%41) - 20
}

// photoPNG renders a smooth sinusoidal pattern with per-pixel grain: large as
// PNG, compact as JPEG.
func photoPNG(size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r := 128 + 100*math.Sin(float64(x)/7.3) + grain(x, y, 0)
			g := 128 + 100*math.Cos(float64(y)/5.1) + grain(x, y, 1)
			b := 128 + 100*math.Sin(float64(x+y)/11.7) + grain(x, y, 2)
			img.Set(x, y, color.RGBA{uint8(r), uint8(g), uint8(b), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func texturedDocument(texData []byte) (*gltf.Document, *gltf.Texture) {
	doc := gltf.NewDocument()
	tex := &gltf.Texture{Name: "albedo", MimeType: "image/png", Data: texData}
	mat := gltf.NewMaterial("mat")
	mat.BaseColorTexture = &gltf.TextureRef{Texture: tex}
	doc.Textures = []*gltf.Texture{tex}
	doc.Materials = []*gltf.Material{mat}
	return doc, tex
}

func TestApplyFallbackShrinksTexture(t *testing.T) {
	doc, tex := texturedDocument(photoPNG(256))
	originalSize := len(tex.Data)

	c := NewCompressor(WithEncoder(unavailableEncoder{}))
	stats, err := c.Apply(context.Background(), doc, Options{Enabled: true, Quality: intp(128)})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TexturesProcessed)
	assert.Equal(t, "jpeg-fallback", stats.Method)
	assert.Equal(t, originalSize, stats.OriginalSize)
	assert.Less(t, stats.CompressedSize, stats.OriginalSize)
	assert.Equal(t, "image/jpeg", tex.MimeType)

	require.Len(t, stats.Details, stats.TexturesProcessed)
	detail := stats.Details[0]
	assert.Equal(t, "albedo", detail.Name)
	assert.Equal(t, "image/png", detail.OriginalFormat)
	assert.Positive(t, detail.OriginalSize)
}

func TestApplyKTX2EncoderMarksExtension(t *testing.T) {
	doc, tex := texturedDocument(photoPNG(64))

	enc := &stubKTX2Encoder{}
	c := NewCompressor(WithEncoder(enc))
	stats, err := c.Apply(context.Background(), doc, Options{Enabled: true})
	require.NoError(t, err)

	assert.Equal(t, 1, enc.calls)
	assert.Equal(t, "ktx2", stats.Method)
	assert.Equal(t, "image/ktx2", tex.MimeType)
	assert.True(t, doc.ExtensionUsed(gltf.ExtTextureBasisU))
	assert.True(t, doc.ExtensionRequired(gltf.ExtTextureBasisU))
}

func TestApplyZeroTexturesIsNotAnError(t *testing.T) {
	doc := gltf.NewDocument()

	c := NewCompressor(WithEncoder(unavailableEncoder{}))
	stats, err := c.Apply(context.Background(), doc, Options{Enabled: true})
	require.NoError(t, err)

	assert.Zero(t, stats.TexturesProcessed)
	assert.Zero(t, stats.OriginalSize)
	assert.Empty(t, stats.Details)
}

func TestApplySlotFilter(t *testing.T) {
	doc, base := texturedDocument(photoPNG(64))

	normalTex := &gltf.Texture{Name: "normals", MimeType: "image/png", Data: photoPNG(64)}
	doc.Textures = append(doc.Textures, normalTex)
	doc.Materials[0].NormalTexture = &gltf.TextureRef{Texture: normalTex, Scale: 1}

	orphanTex := &gltf.Texture{Name: "orphan", MimeType: "image/png", Data: photoPNG(64)}
	doc.Textures = append(doc.Textures, orphanTex)

	c := NewCompressor(WithEncoder(unavailableEncoder{}))
	stats, err := c.Apply(context.Background(), doc, Options{
		Enabled: true,
		Slots:   []string{gltf.SlotBaseColor},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TexturesProcessed)
	assert.Equal(t, "image/jpeg", base.MimeType)
	assert.Equal(t, "image/png", normalTex.MimeType, "normal slot excluded by the filter")
	assert.Equal(t, "image/png", orphanTex.MimeType, "orphan texture unreachable via any slot")
}

func TestApplyKeepsOriginalWhenReencodeGrows(t *testing.T) {
	// A tiny solid-color PNG is already smaller than any JPEG of it.
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	doc, tex := texturedDocument(buf.Bytes())
	originalSize := len(tex.Data)

	c := NewCompressor(WithEncoder(unavailableEncoder{}))
	stats, err := c.Apply(context.Background(), doc, Options{Enabled: true})
	require.NoError(t, err)

	assert.Equal(t, originalSize, stats.CompressedSize)
	assert.Equal(t, "image/png", tex.MimeType)
}

func TestApplyDownscaleCapsDimensions(t *testing.T) {
	doc, tex := texturedDocument(photoPNG(128))

	c := NewCompressor(WithEncoder(unavailableEncoder{}))
	_, err := c.Apply(context.Background(), doc, Options{
		Enabled: true,
		MaxSize: intp(32),
	})
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(tex.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 32)
	assert.LessOrEqual(t, img.Bounds().Dy(), 32)
}

func TestETC1SCompressionLevelDerivation(t *testing.T) {
	assert.Equal(t, 1, etc1sCompressionLevel(1))
	assert.Equal(t, 3, etc1sCompressionLevel(128))
	assert.Equal(t, 5, etc1sCompressionLevel(255))
}

func TestFallbackQualityMapping(t *testing.T) {
	assert.Equal(t, 30, fallbackQuality(encodeParams{mode: ModeETC1S, quality: 1}))
	assert.Equal(t, 90, fallbackQuality(encodeParams{mode: ModeETC1S, quality: 255}))
	assert.Equal(t, 60, fallbackQuality(encodeParams{mode: ModeUASTC, quality: 0}))
	assert.Equal(t, 92, fallbackQuality(encodeParams{mode: ModeUASTC, quality: 4}))
}
