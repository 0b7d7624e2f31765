package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/draco"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/prune"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/quantize"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/simplify"
)

// writeQuadGLB builds a small scene on disk: one quad mesh, one used and one
// unused material, one unused texture.
func writeQuadGLB(t *testing.T) string {
	t.Helper()
	doc := gltf.NewDocument()

	pos := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	pos.SetFloats([]float32{
		0, 0, 0,
		1, 0, 0,
		1, 1, 0,
		0, 1, 0,
	})
	nrm := gltf.NewAccessor(gltf.TypeVec3, gltf.ComponentFloat, false)
	nrm.SetFloats([]float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1})
	idx := gltf.NewAccessor(gltf.TypeScalar, gltf.ComponentUint16, false)
	idx.SetIndices([]uint32{0, 1, 2, 0, 2, 3})

	used := gltf.NewMaterial("used")
	unused := gltf.NewMaterial("unused")
	unusedTex := &gltf.Texture{Name: "ghost", MimeType: "image/png", Data: []byte{1, 2, 3}}

	prim := &gltf.Primitive{
		Attributes: map[string]*gltf.Accessor{"POSITION": pos, "NORMAL": nrm},
		Indices:    idx,
		Material:   used,
		Mode:       gltf.ModeTriangles,
	}
	mesh := &gltf.Mesh{Name: "quad", Primitives: []*gltf.Primitive{prim}}
	node := &gltf.Node{Name: "root", Mesh: mesh}
	scene := &gltf.Scene{Nodes: []*gltf.Node{node}}

	doc.Accessors = []*gltf.Accessor{pos, nrm, idx}
	doc.Materials = []*gltf.Material{used, unused}
	doc.Textures = []*gltf.Texture{unusedTex}
	doc.Meshes = []*gltf.Mesh{mesh}
	doc.Nodes = []*gltf.Node{node}
	doc.Scenes = []*gltf.Scene{scene}
	doc.DefaultScene = scene

	path := filepath.Join(t.TempDir(), "input.glb")
	require.NoError(t, gltf.Write(path, doc))
	return path
}

func TestExecuteNullOpRoundTrip(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	result, err := Execute(context.Background(), input, output, Options{}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// Only the two repair phases ran.
	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepRepairInput, result.Steps[0].Step)
	assert.Equal(t, StepRepairOutput, result.Steps[1].Step)

	before, err := gltf.Read(input)
	require.NoError(t, err)
	after, err := gltf.Read(output)
	require.NoError(t, err)

	assert.Equal(t, len(before.Meshes), len(after.Meshes))
	assert.Equal(t, len(before.Materials), len(after.Materials))

	beforeTris, afterTris := 0, 0
	for _, p := range before.Primitives() {
		beforeTris += p.TriangleCount()
	}
	for _, p := range after.Primitives() {
		afterTris += p.TriangleCount()
	}
	assert.Equal(t, beforeTris, afterTris)

	assert.Positive(t, result.OptimizedSize)
	assert.NotEmpty(t, result.TaskID)
	assert.Equal(t, "/download/"+result.TaskID, result.DownloadURL)
}

func TestExecuteCleanRemovesUnusedResources(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	result, err := Execute(context.Background(), input, output, Options{
		Clean: prune.Options{Enabled: true},
	}, nil)
	require.NoError(t, err)

	require.Len(t, result.Steps, 3)
	cleanStats, ok := result.Steps[1].Stats.(*prune.Stats)
	require.True(t, ok)
	assert.Equal(t, 1, cleanStats.MaterialsRemoved)
	assert.Equal(t, 1, cleanStats.TexturesRemoved)

	after, err := gltf.Read(output)
	require.NoError(t, err)
	assert.Len(t, after.Materials, 1)
	assert.Empty(t, after.Textures)
}

func TestExecuteFailureIsolation(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	result, err := Execute(context.Background(), input, output, Options{
		Clean:    prune.Options{Enabled: true},
		Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(-1)},
		Quantize: quantize.Options{Enabled: true},
		Draco:    draco.Options{Enabled: true},
	}, nil)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, IsKind(err, KindInvalidOptions))
	assert.Equal(t, StepSimplify, result.FailedStep)

	// Exactly three step records: the two successes and the failure. The
	// steps after simplify never ran.
	require.Len(t, result.Steps, 3)
	assert.Equal(t, StepRepairInput, result.Steps[0].Step)
	assert.True(t, result.Steps[0].Success)
	assert.Equal(t, StepClean, result.Steps[1].Step)
	assert.True(t, result.Steps[1].Success)
	assert.Equal(t, StepSimplify, result.Steps[2].Step)
	assert.False(t, result.Steps[2].Success)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no output file on failure")
}

func TestExecuteRejectsBadSimplifyOptions(t *testing.T) {
	input := writeQuadGLB(t)

	t.Run("negative ratio", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.glb")
		_, err := Execute(context.Background(), input, output, Options{
			Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(-1)},
		}, nil)
		require.Error(t, err)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, KindInvalidOptions, perr.Kind)
		assert.Equal(t, "targetRatio", perr.Field)
	})

	t.Run("ratio above one", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.glb")
		_, err := Execute(context.Background(), input, output, Options{
			Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(1.5)},
		}, nil)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidOptions))
	})

	t.Run("both targets", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.glb")
		count := 10
		_, err := Execute(context.Background(), input, output, Options{
			Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(0.5), TargetCount: &count},
		}, nil)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidOptions))
	})

	t.Run("no target", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "out.glb")
		_, err := Execute(context.Background(), input, output, Options{
			Simplify: simplify.Options{Enabled: true},
		}, nil)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidOptions))
	})
}

func TestExecuteRejectsBadDracoOptions(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	level := 11
	_, err := Execute(context.Background(), input, output, Options{
		Draco: draco.Options{Enabled: true, CompressionLevel: &level},
	}, nil)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindInvalidOptions, perr.Kind)
	assert.Equal(t, "compressionLevel", perr.Field)
}

func TestExecuteInvalidFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "bad.glb")
	require.NoError(t, os.WriteFile(input, []byte{0x01, 0x02, 0x03, 0x04, 2, 0, 0, 0, 12, 0, 0, 0}, 0o644))
	output := filepath.Join(dir, "out.glb")

	result, err := Execute(context.Background(), input, output, Options{}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidFile))
	assert.False(t, result.Success)
	assert.Empty(t, result.Steps)
}

func TestExecuteMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := Execute(context.Background(), filepath.Join(dir, "nope.glb"), filepath.Join(dir, "out.glb"), Options{}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidFile))
}

func TestExecuteCancellation(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Execute(ctx, input, output, Options{}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCancelled))
	assert.False(t, result.Success)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no output file on cancellation")
}

func TestExecuteProgressStream(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	var events []ProgressEvent
	result, err := Execute(context.Background(), input, output, Options{
		Clean: prune.Options{Enabled: true},
	}, func(e ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	// One start + one done per executed step.
	require.Len(t, events, 2*len(result.Steps))
	for i, e := range events {
		if i%2 == 0 {
			assert.Equal(t, ProgressStart, e.Status)
		} else {
			assert.Equal(t, ProgressDone, e.Status)
		}
		assert.Equal(t, len(result.Steps), e.Total)
	}
	assert.Equal(t, StepRepairInput, events[0].Step)
	assert.Equal(t, StepRepairOutput, events[len(events)-1].Step)
}

func TestExecuteStepCountReport(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	// K = 3 user-enabled steps plus the two repair phases.
	result, err := Execute(context.Background(), input, output, Options{
		Clean:    prune.Options{Enabled: true},
		Simplify: simplify.Options{Enabled: true, TargetRatio: floatp(0.9)},
		Quantize: quantize.Options{Enabled: true},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, result.Steps, 5)
	for _, s := range result.Steps {
		assert.True(t, s.Success)
	}
}

func TestPresets(t *testing.T) {
	t.Run("fast", func(t *testing.T) {
		opts, err := Preset(PresetFast)
		require.NoError(t, err)
		assert.True(t, opts.Clean.Enabled)
		assert.True(t, opts.Draco.Enabled)
		require.NotNil(t, opts.Draco.CompressionLevel)
		assert.Equal(t, 3, *opts.Draco.CompressionLevel)
		assert.False(t, opts.Simplify.Enabled)
	})

	t.Run("balanced", func(t *testing.T) {
		opts, err := Preset(PresetBalanced)
		require.NoError(t, err)
		assert.True(t, opts.Merge.Enabled)
		require.NotNil(t, opts.Simplify.TargetRatio)
		assert.InDelta(t, 0.75, float64(*opts.Simplify.TargetRatio), 1e-6)
		assert.True(t, opts.Texture.Enabled)
	})

	t.Run("maximum", func(t *testing.T) {
		opts, err := Preset(PresetMaximum)
		require.NoError(t, err)
		require.NotNil(t, opts.Simplify.Error)
		assert.InDelta(t, 0.02, float64(*opts.Simplify.Error), 1e-6)
		require.NotNil(t, opts.Draco.CompressionLevel)
		assert.Equal(t, 10, *opts.Draco.CompressionLevel)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Preset("turbo")
		assert.Error(t, err)
	})
}

func TestExecuteQuantizePipeline(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	result, err := Execute(context.Background(), input, output, Options{
		Quantize: quantize.Options{Enabled: true},
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	after, err := gltf.Read(output)
	require.NoError(t, err)
	assert.True(t, after.ExtensionUsed(gltf.ExtMeshQuantization))

	var quantStats *quantize.Stats
	for _, s := range result.Steps {
		if s.Step == StepQuantize {
			quantStats = s.Stats.(*quantize.Stats)
		}
	}
	require.NotNil(t, quantStats)
	assert.LessOrEqual(t, quantStats.QuantizedSize, quantStats.OriginalSize)
}

func TestExecuteDracoPipelineWritesCompressedContainer(t *testing.T) {
	input := writeQuadGLB(t)
	output := filepath.Join(t.TempDir(), "out.glb")

	result, err := Execute(context.Background(), input, output, Options{
		Draco: draco.Options{Enabled: true},
	}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(raw), gltf.ExtDracoMeshCompression)
}
