// Package dtype provides HDF5 datatype handling and Go type conversion for
// read paths only; this streamer never writes HDF5 files.
//
// This package bridges the gap between HDF5's type system and Go's type
// system, providing functionality to:
//
//   - Determine the Go type corresponding to an HDF5 datatype
//   - Convert raw HDF5 data bytes to Go values
//   - Decode raw chunk bytes directly to float32 power samples
//
// # Type Mapping Strategy
//
// HDF5 datatypes are mapped to Go types as follows:
//
//	HDF5 Class        | Go Type
//	------------------|------------------
//	Fixed-point (int) | int8/16/32/64 or uint8/16/32/64 based on size and signedness
//	Floating-point    | float32 (4 bytes) or float64 (8 bytes)
//	String (fixed)    | string
//	String (varlen)   | string (via global heap lookup)
//	Compound          | map[string]interface{} or struct
//	Array             | slice of element type
//	Enum              | underlying integer type
//	Bitfield          | unsigned integer type
//	Opaque            | []byte
//
// # Reading Data
//
// Use [Convert] or [ConvertWithReader] to convert raw bytes to Go values:
//
//	var values []float64
//	err := dtype.Convert(datatype, rawBytes, numElements, &values)
//
// For variable-length data (like varlen strings), pass a reader to access
// the global heap:
//
//	err := dtype.ConvertWithReader(datatype, rawBytes, n, &values, reader)
//
// [DecodeFloat32] is the tile-streaming fast path: it skips the reflection
// machinery in [Convert] and decodes fixed- or floating-point samples
// straight to a []float32, the common currency the tile service and
// multi-band compositor sample in.
//
// # Key Functions
//
//   - [GoType]: Returns the reflect.Type for an HDF5 datatype
//   - [Convert]: Converts HDF5 bytes to Go values
//   - [ConvertWithReader]: Converts with reader access for varlen data
//   - [DecodeFloat32]: Decodes raw chunk bytes to float32 power samples
//   - [ByteOrder]: Returns the binary.ByteOrder for a datatype
//   - [ElementSize]: Returns the size of a single element in bytes
package dtype
