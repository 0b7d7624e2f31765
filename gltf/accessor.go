package gltf

import (
	"fmt"

	"github.com/gdgeek/3D-Model-Optimizer/common"
)

// ComponentType identifies the storage type of an accessor's components,
// using the glTF enumeration values.
type ComponentType int

const (
	ComponentInt8   ComponentType = 5120
	ComponentUint8  ComponentType = 5121
	ComponentInt16  ComponentType = 5122
	ComponentUint16 ComponentType = 5123
	ComponentUint32 ComponentType = 5125
	ComponentFloat  ComponentType = 5126
)

// Size returns the byte size of one component, or 0 for an unknown type.
func (c ComponentType) Size() int {
	switch c {
	case ComponentInt8, ComponentUint8:
		return 1
	case ComponentInt16, ComponentUint16:
		return 2
	case ComponentUint32, ComponentFloat:
		return 4
	default:
		return 0
	}
}

// AccessorType identifies the element shape of an accessor.
type AccessorType string

const (
	TypeScalar AccessorType = "SCALAR"
	TypeVec2   AccessorType = "VEC2"
	TypeVec3   AccessorType = "VEC3"
	TypeVec4   AccessorType = "VEC4"
	TypeMat2   AccessorType = "MAT2"
	TypeMat3   AccessorType = "MAT3"
	TypeMat4   AccessorType = "MAT4"
)

// Components returns the number of components per element, or 0 for an
// unknown type.
func (t AccessorType) Components() int {
	switch t {
	case TypeScalar:
		return 1
	case TypeVec2:
		return 2
	case TypeVec3:
		return 3
	case TypeVec4, TypeMat2:
		return 4
	case TypeMat3:
		return 9
	case TypeMat4:
		return 16
	default:
		return 0
	}
}

// Accessor is a typed, counted view of a contiguous array. Unlike the raw
// glTF schema, an Accessor owns its packed little-endian data directly; buffer
// views are reconstructed at write time.
type Accessor struct {
	Name          string
	Type          AccessorType
	ComponentType ComponentType
	Normalized    bool
	Min, Max      []float32

	// Data is the packed element data, len = Count() * ElementSize().
	Data []byte
}

// NewAccessor creates an accessor of the given shape with no data.
func NewAccessor(t AccessorType, c ComponentType, normalized bool) *Accessor {
	return &Accessor{Type: t, ComponentType: c, Normalized: normalized}
}

// ElementSize returns the byte size of one element.
func (a *Accessor) ElementSize() int {
	return a.ComponentType.Size() * a.Type.Components()
}

// Count returns the number of elements backed by Data.
func (a *Accessor) Count() int {
	es := a.ElementSize()
	if es == 0 {
		return 0
	}
	return len(a.Data) / es
}

// ByteLength returns the packed data size in bytes.
func (a *Accessor) ByteLength() int {
	return len(a.Data)
}

// Floats returns a mutable float32 view of the data. Valid only when the
// component type is FLOAT; returns nil otherwise. The view shares memory with
// Data, so writes through it are visible in the serialized output.
func (a *Accessor) Floats() []float32 {
	if a.ComponentType != ComponentFloat {
		return nil
	}
	return common.BytesToSlice[float32](a.Data)
}

// SetFloats replaces the accessor's data with the given float32 values and
// sets the component type to FLOAT. The length must be a multiple of the
// accessor type's component count.
func (a *Accessor) SetFloats(vals []float32) {
	a.ComponentType = ComponentFloat
	a.Normalized = false
	a.Data = append([]byte(nil), common.SliceToBytes(vals)...)
}

// DecodeFloats returns a float32 copy of the data for any component type,
// applying the normalized-integer decoding when the accessor is normalized.
func (a *Accessor) DecodeFloats() []float32 {
	count := a.Count() * a.Type.Components()
	out := make([]float32, count)
	switch a.ComponentType {
	case ComponentFloat:
		copy(out, common.BytesToSlice[float32](a.Data))
	case ComponentInt8:
		src := common.BytesToSlice[int8](a.Data)
		for i, v := range src {
			f := float32(v)
			if a.Normalized {
				f = maxf(f/127, -1)
			}
			out[i] = f
		}
	case ComponentUint8:
		for i, v := range a.Data[:count] {
			f := float32(v)
			if a.Normalized {
				f /= 255
			}
			out[i] = f
		}
	case ComponentInt16:
		src := common.BytesToSlice[int16](a.Data)
		for i, v := range src {
			f := float32(v)
			if a.Normalized {
				f = maxf(f/32767, -1)
			}
			out[i] = f
		}
	case ComponentUint16:
		src := common.BytesToSlice[uint16](a.Data)
		for i, v := range src {
			f := float32(v)
			if a.Normalized {
				f /= 65535
			}
			out[i] = f
		}
	case ComponentUint32:
		src := common.BytesToSlice[uint32](a.Data)
		for i, v := range src {
			out[i] = float32(v)
		}
	}
	return out
}

// ReadIndices returns the accessor's values widened to uint32. The accessor
// must be SCALAR with an unsigned component type.
//
// Returns:
//   - []uint32: the index data
//   - error: error if the accessor is not a valid index accessor
func (a *Accessor) ReadIndices() ([]uint32, error) {
	if a.Type != TypeScalar {
		return nil, fmt.Errorf("index accessor is not SCALAR: type=%s", a.Type)
	}
	switch a.ComponentType {
	case ComponentUint8:
		out := make([]uint32, len(a.Data))
		for i, v := range a.Data {
			out[i] = uint32(v)
		}
		return out, nil
	case ComponentUint16:
		src := common.BytesToSlice[uint16](a.Data)
		out := make([]uint32, len(src))
		for i, v := range src {
			out[i] = uint32(v)
		}
		return out, nil
	case ComponentUint32:
		return append([]uint32(nil), common.BytesToSlice[uint32](a.Data)...), nil
	default:
		return nil, fmt.Errorf("unsupported index component type: %d", a.ComponentType)
	}
}

// SetIndices replaces the accessor's data with the given indices, stored as
// UNSIGNED_SHORT when every value fits and UNSIGNED_INT otherwise.
func (a *Accessor) SetIndices(indices []uint32) {
	a.Type = TypeScalar
	a.Normalized = false

	var maxIdx uint32
	for _, v := range indices {
		if v > maxIdx {
			maxIdx = v
		}
	}

	if maxIdx < 1<<16 {
		a.ComponentType = ComponentUint16
		narrow := make([]uint16, len(indices))
		for i, v := range indices {
			narrow[i] = uint16(v)
		}
		a.Data = append([]byte(nil), common.SliceToBytes(narrow)...)
		return
	}

	a.ComponentType = ComponentUint32
	a.Data = append([]byte(nil), common.SliceToBytes(indices)...)
}

// MaxIndex returns the largest index value, or 0 for an empty accessor.
func (a *Accessor) MaxIndex() uint32 {
	indices, err := a.ReadIndices()
	if err != nil {
		return 0
	}
	var maxIdx uint32
	for _, v := range indices {
		if v > maxIdx {
			maxIdx = v
		}
	}
	return maxIdx
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
