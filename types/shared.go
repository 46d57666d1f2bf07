package types

import "fmt"

// Token is the canonical token ID type the rest of the pipeline consumes.
// Stored arrays use narrower widths on disk; every supported width widens
// losslessly into a 64-bit signed Token.
type Token int64

// Tokens is one decoded chunk of token IDs.
type Tokens []Token

// Mask is a decoded boolean array parallel to a Tokens chunk.
type Mask []bool

// MaskSize is the stored width of one mask element in bytes.
const MaskSize = 1

// ElementType enumerates the stored widths a token array may use. The zero
// value is Uint16, the usual width for vocabularies under 65536 entries.
type ElementType uint8

const (
	Uint16 ElementType = iota
	Uint32
	Uint8
	Int32
	Int64
)

// Size returns the width in bytes of one stored element, or 0 if the
// ElementType is not one of the supported widths.
func (et ElementType) Size() int {
	switch et {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint32, Int32:
		return 4
	case Int64:
		return 8
	}
	return 0
}

// Valid reports whether et is a supported stored width.
func (et ElementType) Valid() bool {
	return et.Size() != 0
}

func (et ElementType) String() string {
	switch et {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("ElementType(%d)", uint8(et))
}

// ParseElementType
// Maps a dtype name such as `uint16` to its ElementType.
func ParseElementType(name string) (ElementType, error) {
	switch name {
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	}
	return 0, fmt.Errorf("unknown element type `%s`", name)
}
