// Package dtype provides datatype handling and conversion for HDF5 data.
//
// This package works with the message.Datatype parsed from object headers
// and provides utilities for converting raw HDF5 data to Go types.
package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/nisar-gcov/streamer/internal/message"
)

// GoType returns the Go reflect.Type that corresponds to the given HDF5 datatype.
func GoType(dt *message.Datatype) (reflect.Type, error) {
	if dt == nil {
		return nil, fmt.Errorf("nil datatype")
	}

	switch dt.Class {
	case message.ClassFixedPoint:
		return goTypeFixedPoint(dt)
	case message.ClassFloatPoint:
		return goTypeFloatPoint(dt)
	case message.ClassString:
		return reflect.TypeOf(""), nil
	case message.ClassCompound:
		return goTypeCompound(dt)
	case message.ClassArray:
		return goTypeArray(dt)
	case message.ClassVarLen:
		if dt.IsVarLenString {
			return reflect.TypeOf(""), nil
		}
		if dt.VarLenType != nil {
			elemType, err := GoType(dt.VarLenType)
			if err != nil {
				return nil, err
			}
			return reflect.SliceOf(elemType), nil
		}
		return reflect.TypeOf([]byte{}), nil
	case message.ClassEnum:
		// Enums are stored as their base type (usually integer)
		return goTypeFixedPoint(dt)
	default:
		return nil, fmt.Errorf("unsupported datatype class: %d", dt.Class)
	}
}

func goTypeFixedPoint(dt *message.Datatype) (reflect.Type, error) {
	signed := dt.Signed

	switch dt.Size {
	case 1:
		if signed {
			return reflect.TypeOf(int8(0)), nil
		}
		return reflect.TypeOf(uint8(0)), nil
	case 2:
		if signed {
			return reflect.TypeOf(int16(0)), nil
		}
		return reflect.TypeOf(uint16(0)), nil
	case 4:
		if signed {
			return reflect.TypeOf(int32(0)), nil
		}
		return reflect.TypeOf(uint32(0)), nil
	case 8:
		if signed {
			return reflect.TypeOf(int64(0)), nil
		}
		return reflect.TypeOf(uint64(0)), nil
	default:
		return nil, fmt.Errorf("unsupported fixed-point size: %d", dt.Size)
	}
}

func goTypeFloatPoint(dt *message.Datatype) (reflect.Type, error) {
	switch dt.Size {
	case 2:
		return reflect.TypeOf(float32(0)), nil
	case 4:
		return reflect.TypeOf(float32(0)), nil
	case 8:
		return reflect.TypeOf(float64(0)), nil
	default:
		return nil, fmt.Errorf("unsupported float size: %d", dt.Size)
	}
}

// DecodeFloat32 converts a raw element buffer into float32 samples
// according to dt's class and size. It covers every numeric element type
// the tile/RGB services sample: half/single/double floats, signed and
// unsigned 8/16/32-bit integers, and the real component of a complex
// pair stored as two adjacent 32-bit floats (NISAR's ComplexF32 pixels).
// raw must hold exactly n elements; complex elements consume 8 bytes each.
func DecodeFloat32(dt *message.Datatype, raw []byte, n int) ([]float32, error) {
	if dt == nil {
		return nil, fmt.Errorf("nil datatype")
	}
	order := ByteOrder(dt)
	out := make([]float32, n)

	switch dt.Class {
	case message.ClassFloatPoint:
		switch dt.Size {
		case 2:
			for i := 0; i < n; i++ {
				off := i * 2
				if off+2 > len(raw) {
					return nil, fmt.Errorf("dtype: short buffer decoding float16 element %d", i)
				}
				bits := order.Uint16(raw[off : off+2])
				out[i] = float16ToFloat32(bits)
			}
		case 4:
			for i := 0; i < n; i++ {
				off := i * 4
				if off+4 > len(raw) {
					return nil, fmt.Errorf("dtype: short buffer decoding float32 element %d", i)
				}
				out[i] = math.Float32frombits(order.Uint32(raw[off : off+4]))
			}
		case 8:
			for i := 0; i < n; i++ {
				off := i * 8
				if off+8 > len(raw) {
					return nil, fmt.Errorf("dtype: short buffer decoding float64 element %d", i)
				}
				out[i] = float32(math.Float64frombits(order.Uint64(raw[off : off+8])))
			}
		default:
			return nil, fmt.Errorf("dtype: unsupported float size %d", dt.Size)
		}

	case message.ClassFixedPoint:
		switch dt.Size {
		case 1:
			for i := 0; i < n; i++ {
				if i >= len(raw) {
					return nil, fmt.Errorf("dtype: short buffer decoding uint8 element %d", i)
				}
				if dt.Signed {
					out[i] = float32(int8(raw[i]))
				} else {
					out[i] = float32(raw[i])
				}
			}
		case 2:
			for i := 0; i < n; i++ {
				off := i * 2
				if off+2 > len(raw) {
					return nil, fmt.Errorf("dtype: short buffer decoding int16 element %d", i)
				}
				v := order.Uint16(raw[off : off+2])
				if dt.Signed {
					out[i] = float32(int16(v))
				} else {
					out[i] = float32(v)
				}
			}
		case 4:
			for i := 0; i < n; i++ {
				off := i * 4
				if off+4 > len(raw) {
					return nil, fmt.Errorf("dtype: short buffer decoding int32 element %d", i)
				}
				v := order.Uint32(raw[off : off+4])
				if dt.Signed {
					out[i] = float32(int32(v))
				} else {
					out[i] = float32(v)
				}
			}
		default:
			return nil, fmt.Errorf("dtype: unsupported integer size %d", dt.Size)
		}

	case message.ClassCompound:
		// NISAR stores complex backscatter as a two-member compound of
		// float32 real/imag. Sample magnitude's real component; callers
		// wanting full complex power use DecodeComplexPower instead.
		if dt.Size != 8 || len(dt.Members) < 1 {
			return nil, fmt.Errorf("dtype: unsupported compound layout for float sampling")
		}
		for i := 0; i < n; i++ {
			off := i * 8
			if off+4 > len(raw) {
				return nil, fmt.Errorf("dtype: short buffer decoding complex element %d", i)
			}
			out[i] = math.Float32frombits(order.Uint32(raw[off : off+4]))
		}

	default:
		return nil, fmt.Errorf("dtype: unsupported class %d for float sampling", dt.Class)
	}

	return out, nil
}

// DecodeComplexPower converts a raw buffer of complex float32 (real,
// imag) pairs into linear power samples (real^2 + imag^2), the unit
// NISAR covariance-term heuristics and multi-look averaging operate in.
func DecodeComplexPower(dt *message.Datatype, raw []byte, n int) ([]float32, error) {
	if dt == nil || dt.Class != message.ClassCompound || dt.Size != 8 {
		return nil, fmt.Errorf("dtype: DecodeComplexPower requires an 8-byte complex compound type")
	}
	order := ByteOrder(dt)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		off := i * 8
		if off+8 > len(raw) {
			return nil, fmt.Errorf("dtype: short buffer decoding complex element %d", i)
		}
		re := math.Float32frombits(order.Uint32(raw[off : off+4]))
		im := math.Float32frombits(order.Uint32(raw[off+4 : off+8]))
		out[i] = re*re + im*im
	}
	return out, nil
}

// float16ToFloat32 decodes an IEEE 754 binary16 value (1 sign bit, 5
// exponent bits, 10 mantissa bits) into float32.
func float16ToFloat32(bits uint16) float32 {
	sign := uint32(bits&0x8000) << 16
	exp := uint32(bits>>10) & 0x1F
	frac := uint32(bits & 0x3FF)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize by shifting the fraction left until the
		// implicit leading bit would land, adjusting the exponent to match.
		e := -1
		for frac&0x400 == 0 {
			frac <<= 1
			e++
		}
		frac &= 0x3FF
		exp32 := uint32(127 - 15 - e)
		return math.Float32frombits(sign | exp32<<23 | frac<<13)
	case 0x1F:
		if frac == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7F800000 | frac<<13)
	default:
		exp32 := exp - 15 + 127
		return math.Float32frombits(sign | exp32<<23 | frac<<13)
	}
}

func goTypeCompound(dt *message.Datatype) (reflect.Type, error) {
	if len(dt.Members) == 0 {
		return nil, fmt.Errorf("compound type has no members")
	}

	fields := make([]reflect.StructField, len(dt.Members))
	for i, member := range dt.Members {
		memberType, err := GoType(member.Type)
		if err != nil {
			return nil, fmt.Errorf("compound member %q: %w", member.Name, err)
		}
		fields[i] = reflect.StructField{
			Name: exportName(member.Name),
			Type: memberType,
		}
	}

	return reflect.StructOf(fields), nil
}

func goTypeArray(dt *message.Datatype) (reflect.Type, error) {
	if dt.BaseType == nil {
		return nil, fmt.Errorf("array type has no base type")
	}
	if len(dt.ArrayDims) == 0 {
		return nil, fmt.Errorf("array type has no dimensions")
	}

	elemType, err := GoType(dt.BaseType)
	if err != nil {
		return nil, err
	}

	// Build nested array type from innermost to outermost
	result := elemType
	for i := len(dt.ArrayDims) - 1; i >= 0; i-- {
		result = reflect.ArrayOf(int(dt.ArrayDims[i]), result)
	}

	return result, nil
}

// exportName converts an HDF5 member name to a valid exported Go field name.
func exportName(name string) string {
	if len(name) == 0 {
		return "Field"
	}

	runes := []rune(name)

	// Capitalize first letter
	if runes[0] >= 'a' && runes[0] <= 'z' {
		runes[0] = runes[0] - 'a' + 'A'
	}

	// Replace invalid characters with underscores
	for i := range runes {
		r := runes[i]
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			runes[i] = '_'
		}
	}

	return string(runes)
}

// ByteOrder returns the binary.ByteOrder for the datatype.
func ByteOrder(dt *message.Datatype) binary.ByteOrder {
	if dt.ByteOrder == message.OrderBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ElementSize returns the size of a single element in bytes.
func ElementSize(dt *message.Datatype) int {
	return int(dt.Size)
}

// IsNumeric returns true if the datatype is a numeric type.
func IsNumeric(dt *message.Datatype) bool {
	return dt.Class == message.ClassFixedPoint || dt.Class == message.ClassFloatPoint
}
