package texture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Mode selects the KTX2 encoding family.
type Mode string

const (
	// ModeETC1S favors size.
	ModeETC1S Mode = "ETC1S"
	// ModeUASTC favors quality; the encoder applies a zstd pass on top.
	ModeUASTC Mode = "UASTC"
)

// uastcZstdLevel is the supercompression level applied after UASTC encoding.
const uastcZstdLevel = 19

// encodeParams carries the resolved per-texture encode configuration.
type encodeParams struct {
	mode    Mode
	quality int
}

// etc1sCompressionLevel derives the encoder effort level (1-5) from the
// ETC1S quality (1-255).
func etc1sCompressionLevel(quality int) int {
	level := (quality + 25) / 51 // round(quality / 51)
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}
	return level
}

// KTX2Encoder produces KTX2/Basis Universal textures from PNG or JPEG bytes.
// The production implementation shells out to the toktx tool; tests inject
// stubs.
type KTX2Encoder interface {
	// Available reports whether the encoder can run in this process.
	Available() bool

	// Encode re-encodes the image bytes as KTX2.
	//
	// Parameters:
	//   - ctx: cancels the encode subprocess
	//   - data: the source image bytes (PNG or JPEG)
	//   - ext: the source file extension including the dot (".png", ".jpg")
	//   - params: mode and quality
	//
	// Returns:
	//   - []byte: the KTX2 container bytes
	//   - error: error if encoding fails
	Encode(ctx context.Context, data []byte, ext string, params encodeParams) ([]byte, error)
}

// toktxEncoder invokes the KTX-Software toktx binary. Each encode runs in a
// scratch directory that is removed on every exit path.
type toktxEncoder struct {
	binary string
}

// newToktxEncoder resolves the toktx binary on PATH. The returned encoder
// reports unavailable when the tool is missing.
func newToktxEncoder() *toktxEncoder {
	path, err := exec.LookPath("toktx")
	if err != nil {
		return &toktxEncoder{}
	}
	return &toktxEncoder{binary: path}
}

func (t *toktxEncoder) Available() bool { return t.binary != "" }

func (t *toktxEncoder) Encode(ctx context.Context, data []byte, ext string, params encodeParams) ([]byte, error) {
	if t.binary == "" {
		return nil, fmt.Errorf("toktx not available")
	}

	workDir, err := os.MkdirTemp("", "ktx2-encode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "input"+ext)
	outPath := filepath.Join(workDir, "output.ktx2")
	if err := os.WriteFile(inPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage input image: %w", err)
	}

	args := []string{"--t2", "--genmipmap"}
	switch params.mode {
	case ModeUASTC:
		args = append(args,
			"--encode", "uastc",
			"--uastc_quality", strconv.Itoa(params.quality),
			"--zcmp", strconv.Itoa(uastcZstdLevel),
		)
	default:
		args = append(args,
			"--encode", "etc1s",
			"--clevel", strconv.Itoa(etc1sCompressionLevel(params.quality)),
			"--qlevel", strconv.Itoa(params.quality),
		)
	}
	args = append(args, outPath, inPath)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("toktx failed: %w: %s", err, out)
	}

	encoded, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded texture: %w", err)
	}
	return encoded, nil
}
