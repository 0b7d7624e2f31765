package gltf

import (
	"errors"
	"sync"
)

// DracoSettings are the per-primitive compression parameters attached by the
// draco pipeline step. The writer hands them, together with the primitive, to
// the registered encoder.
type DracoSettings struct {
	PositionBits int
	NormalBits   int
	TexcoordBits int
	ColorBits    int
	GenericBits  int
	EncodeSpeed  int
	DecodeSpeed  int
}

// DracoEncoder compresses a primitive's geometry into a single blob. The
// returned attribute id map assigns each compressed attribute semantic the id
// recorded in the KHR_draco_mesh_compression extension object.
type DracoEncoder interface {
	// EncodePrimitive compresses the primitive's indices and attributes.
	//
	// Parameters:
	//   - p: the primitive to compress; must have POSITION and triangle topology
	//   - s: the quantization and speed settings for this primitive
	//
	// Returns:
	//   - []byte: the compressed geometry blob
	//   - map[string]int: attribute semantic to compressed-attribute id
	//   - error: error if encoding fails
	EncodePrimitive(p *Primitive, s *DracoSettings) ([]byte, map[string]int, error)
}

// ErrNoDracoEncoder is returned by the writer when a primitive carries draco
// settings but no encoder module has been registered.
var ErrNoDracoEncoder = errors.New("no draco encoder registered")

var (
	dracoMu      sync.RWMutex
	dracoEncoder DracoEncoder
)

// RegisterDracoEncoder installs the process-wide draco encoder module. The
// encoder is shared read-only across concurrent pipelines; implementations
// must be safe for concurrent use.
func RegisterDracoEncoder(enc DracoEncoder) {
	dracoMu.Lock()
	defer dracoMu.Unlock()
	dracoEncoder = enc
}

// RegisteredDracoEncoder returns the installed encoder, or nil.
func RegisteredDracoEncoder() DracoEncoder {
	dracoMu.RLock()
	defer dracoMu.RUnlock()
	return dracoEncoder
}
