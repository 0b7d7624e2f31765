package draco

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/gdgeek/3D-Model-Optimizer/gltf"
)

// Encoder is the process-wide geometry encoder. It packs each primitive into
// a self-contained blob: a header, the delta-coded connectivity stream and
// one quantized stream per attribute, with a zstd entropy stage whose effort
// follows the configured encode speed. The encoder keeps no per-call state
// and is safe for concurrent use across pipelines.
type Encoder struct {
	writers map[zstd.EncoderLevel]*zstd.Encoder
	mu      sync.Mutex
}

var (
	defaultOnce    sync.Once
	defaultEncoder *Encoder
)

// Default returns the lazily initialized process-wide encoder instance. The
// instance lives until process exit and is shared read-only by every
// pipeline.
func Default() *Encoder {
	defaultOnce.Do(func() {
		defaultEncoder = &Encoder{writers: make(map[zstd.EncoderLevel]*zstd.Encoder)}
	})
	return defaultEncoder
}

var _ gltf.DracoEncoder = (*Encoder)(nil)

// blobMagic identifies the encoder's container format.
var blobMagic = [4]byte{'D', 'R', 'C', '0'}

// EncodePrimitive compresses the primitive's indices and attributes into one
// blob and returns the compressed-attribute id assignment.
//
// Parameters:
//   - p: the primitive to compress; must have POSITION and triangle topology
//   - s: quantization and speed settings
//
// Returns:
//   - []byte: the compressed geometry blob
//   - map[string]int: attribute semantic to compressed-attribute id
//   - error: error if the primitive has no geometry or compression fails
func (e *Encoder) EncodePrimitive(p *gltf.Primitive, s *gltf.DracoSettings) ([]byte, map[string]int, error) {
	pos := p.Position()
	if pos == nil {
		return nil, nil, fmt.Errorf("primitive has no POSITION attribute")
	}

	var payload bytes.Buffer
	payload.Write(blobMagic[:])

	semantics := make([]string, 0, len(p.Attributes))
	for sem := range p.Attributes {
		semantics = append(semantics, sem)
	}
	sort.Strings(semantics)

	writeUvarint(&payload, uint64(len(semantics)))

	attrIDs := make(map[string]int, len(semantics))
	for id, sem := range semantics {
		attrIDs[sem] = id
		acc := p.Attributes[sem]
		if err := encodeAttribute(&payload, sem, acc, s); err != nil {
			return nil, nil, fmt.Errorf("attribute %s: %w", sem, err)
		}
	}

	if err := encodeConnectivity(&payload, p); err != nil {
		return nil, nil, err
	}

	compressed, err := e.compress(payload.Bytes(), s.EncodeSpeed)
	if err != nil {
		return nil, nil, err
	}
	return compressed, attrIDs, nil
}

// compress runs the entropy stage. Lower encode speeds buy higher zstd
// effort.
func (e *Encoder) compress(data []byte, encodeSpeed int) ([]byte, error) {
	var level zstd.EncoderLevel
	switch {
	case encodeSpeed <= 2:
		level = zstd.SpeedBestCompression
	case encodeSpeed <= 5:
		level = zstd.SpeedBetterCompression
	case encodeSpeed <= 8:
		level = zstd.SpeedDefault
	default:
		level = zstd.SpeedFastest
	}

	e.mu.Lock()
	enc, ok := e.writers[level]
	if !ok {
		var err error
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("failed to init zstd encoder: %w", err)
		}
		e.writers[level] = enc
	}
	e.mu.Unlock()

	return enc.EncodeAll(data, nil), nil
}

// encodeAttribute quantizes one attribute stream to its configured bit depth
// and appends it to the payload: semantic, element shape, per-component
// dequantization range, then the packed values.
func encodeAttribute(buf *bytes.Buffer, sem string, acc *gltf.Accessor, s *gltf.DracoSettings) error {
	bits := bitsForSemantic(sem, s)
	comps := acc.Type.Components()
	vals := acc.DecodeFloats()
	count := acc.Count()

	writeString(buf, sem)
	writeString(buf, string(acc.Type))
	writeUvarint(buf, uint64(count))
	writeUvarint(buf, uint64(bits))

	if count == 0 || comps == 0 {
		return nil
	}

	// Per-component range for dequantization.
	minVals := make([]float32, comps)
	maxVals := make([]float32, comps)
	for c := 0; c < comps; c++ {
		minVals[c] = vals[c]
		maxVals[c] = vals[c]
	}
	for i := 1; i < count; i++ {
		for c := 0; c < comps; c++ {
			v := vals[i*comps+c]
			if v < minVals[c] {
				minVals[c] = v
			}
			if v > maxVals[c] {
				maxVals[c] = v
			}
		}
	}
	for c := 0; c < comps; c++ {
		binary.Write(buf, binary.LittleEndian, minVals[c])
		binary.Write(buf, binary.LittleEndian, maxVals[c])
	}

	maxQ := uint64(1)<<uint(bits) - 1
	byteWidth := (bits + 7) / 8
	var scratch [8]byte
	for i := 0; i < count; i++ {
		for c := 0; c < comps; c++ {
			extent := maxVals[c] - minVals[c]
			var q uint64
			if extent > 0 {
				norm := float64(vals[i*comps+c]-minVals[c]) / float64(extent)
				q = uint64(math.Round(norm * float64(maxQ)))
			}
			binary.LittleEndian.PutUint64(scratch[:], q)
			buf.Write(scratch[:byteWidth])
		}
	}
	return nil
}

// encodeConnectivity writes the index stream as zig-zag deltas, which the
// entropy stage compresses well on locally coherent meshes.
func encodeConnectivity(buf *bytes.Buffer, p *gltf.Primitive) error {
	var indices []uint32
	if p.Indices != nil {
		var err error
		indices, err = p.Indices.ReadIndices()
		if err != nil {
			return err
		}
	} else {
		n := p.Position().Count()
		indices = make([]uint32, n)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	writeUvarint(buf, uint64(len(indices)))
	prev := int64(0)
	for _, idx := range indices {
		delta := int64(idx) - prev
		writeUvarint(buf, zigzag(delta))
		prev = int64(idx)
	}
	return nil
}

func bitsForSemantic(sem string, s *gltf.DracoSettings) int {
	switch {
	case sem == "POSITION":
		return s.PositionBits
	case sem == "NORMAL" || sem == "TANGENT":
		return s.NormalBits
	case len(sem) > 9 && sem[:9] == "TEXCOORD_":
		return s.TexcoordBits
	case len(sem) > 6 && sem[:6] == "COLOR_":
		return s.ColorBits
	default:
		return s.GenericBits
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	buf.Write(scratch[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}
