// Package resource loads game resources from the memlist index and the bank
// files, unpacks them and caches the result per scene.
package resource

import (
	"errors"
	"fmt"
)

// Type is the kind of data stored in a resource.
type Type uint8

const (
	// TypeSound is a PCM sample, loaded on demand by the LoadResource opcode.
	TypeSound Type = iota
	// TypeMusic is a music module, loaded on demand by the LoadResource opcode.
	TypeMusic
	// TypeBitmap is a 320x200 4-plane background picture.
	TypeBitmap
	// TypePalette is a bank of 32 palettes of 16 colors.
	TypePalette
	// TypeBytecode is the script of a scene.
	TypeBytecode
	// TypeCinematic is the polygon segment used by cutscenes.
	TypeCinematic
	// TypeVideo is the secondary polygon segment shared by gameplay scenes.
	TypeVideo
)

var typeNames = [...]string{"Sound", "Music", "Bitmap", "Palette", "Bytecode", "Cinematic", "Video"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

func (t Type) valid() bool {
	return int(t) < len(typeNames)
}

var (
	// ErrUnknownResource is returned for ids absent from the index.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrResourceNotLoaded is returned when an id is resolved before it was
	// required by the current scene or a LoadResource opcode.
	ErrResourceNotLoaded = errors.New("resource not loaded")
	// ErrUnknownScene is returned for scene indices outside the scene table.
	ErrUnknownScene = errors.New("unknown scene")
)

// Descriptor is one entry of the memlist index.
type Descriptor struct {
	ID         int
	Type       Type
	Rank       uint8
	BankID     uint8
	BankOffset uint32
	PackedSize int
	Size       int
}

// BankName is the file holding the descriptor's data.
func (d Descriptor) BankName() string {
	return BankName(d.BankID)
}

// Packed reports whether the stored data must go through the unpacker.
func (d Descriptor) Packed() bool {
	return d.Size > d.PackedSize
}

// BankName returns the file name of a bank.
func BankName(bankID uint8) string {
	return fmt.Sprintf("bank%02x", bankID)
}
