package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ToBin serializes tokens into the flat little-endian layout tokenized
// datasets are stored in, using the given element width. Token values that
// do not fit the width are an error rather than a silent truncation.
func (tokens *Tokens) ToBin(et ElementType) (*[]byte, error) {
	width := et.Size()
	if width == 0 {
		return nil, fmt.Errorf("unknown element type %d", uint8(et))
	}
	out := make([]byte, len(*tokens)*width)
	for idx := range *tokens {
		id := (*tokens)[idx]
		if err := checkTokenRange(id, et); err != nil {
			return nil, err
		}
		off := idx * width
		switch et {
		case Uint8:
			out[off] = byte(id)
		case Uint16:
			binary.LittleEndian.PutUint16(out[off:], uint16(id))
		case Uint32:
			binary.LittleEndian.PutUint32(out[off:], uint32(id))
		case Int32:
			binary.LittleEndian.PutUint32(out[off:], uint32(int32(id)))
		case Int64:
			binary.LittleEndian.PutUint64(out[off:], uint64(id))
		}
	}
	return &out, nil
}

func checkTokenRange(id Token, et ElementType) error {
	var lo, hi int64
	switch et {
	case Uint8:
		lo, hi = 0, math.MaxUint8
	case Uint16:
		lo, hi = 0, math.MaxUint16
	case Uint32:
		lo, hi = 0, math.MaxUint32
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return nil
	}
	if int64(id) < lo || int64(id) > hi {
		return fmt.Errorf("integer overflow: tried to write token ID %d as %s",
			id, et)
	}
	return nil
}

// TokensFromBin decodes a flat little-endian array of the given element
// width, widening every element to Token. The byte count must divide evenly
// into whole elements.
func TokensFromBin(bin *[]byte, et ElementType) (*Tokens, error) {
	width := et.Size()
	if width == 0 {
		return nil, fmt.Errorf("unknown element type %d", uint8(et))
	}
	if len(*bin)%width != 0 {
		return nil, fmt.Errorf("%d bytes do not divide into %s elements",
			len(*bin), et)
	}
	tokens := make(Tokens, 0, len(*bin)/width)
	for off := 0; off < len(*bin); off += width {
		var id Token
		switch et {
		case Uint8:
			id = Token((*bin)[off])
		case Uint16:
			id = Token(binary.LittleEndian.Uint16((*bin)[off:]))
		case Uint32:
			id = Token(binary.LittleEndian.Uint32((*bin)[off:]))
		case Int32:
			id = Token(int32(binary.LittleEndian.Uint32((*bin)[off:])))
		case Int64:
			id = Token(binary.LittleEndian.Uint64((*bin)[off:]))
		}
		tokens = append(tokens, id)
	}
	return &tokens, nil
}

// MaskFromBin decodes a flat boolean array: one byte per element, zero is
// false, anything else is true.
func MaskFromBin(bin *[]byte) *Mask {
	mask := make(Mask, len(*bin))
	for idx := range *bin {
		mask[idx] = (*bin)[idx] != 0
	}
	return &mask
}

// ToBin serializes the mask as one byte per element.
func (mask *Mask) ToBin() *[]byte {
	out := make([]byte, len(*mask))
	for idx := range *mask {
		if (*mask)[idx] {
			out[idx] = 1
		}
	}
	return &out
}
