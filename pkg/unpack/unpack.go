// Package unpack implements the decompressor used for packed resources in the
// game's bank files.
//
// A packed resource is a stream of big-endian 32-bit words followed by a
// 12-byte trailer:
//
//	[stream words ...][initial control word][checksum][unpacked size]
//
// The stream is consumed backwards, starting with the word right before the
// trailer, and the output is produced from its last byte towards its first.
// Every consumed word is XORed into the checksum, which must be zero once the
// whole output has been produced.
package unpack

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TrailerSize is the size of the trailer stored at the end of packed data.
const TrailerSize = 12

// ErrCorruptResource is returned when packed data is truncated, inconsistent
// with its trailer, or fails its checksum.
var ErrCorruptResource = errors.New("corrupt resource")

// unpackState holds the decompression state. Both cursors move backwards.
type unpackState struct {
	data   []byte // packed data
	output []byte // unpacked data
	packed int    // read position in data, multiple of 4
	out    int    // write position in output
	chk    uint32 // current control word, highest set bit is a sentinel
	crc    uint32 // running checksum
	err    error  // first error encountered, sticky
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptResource, fmt.Sprintf(format, args...))
}

// Unpack decompresses packed into a new buffer of unpackedSize bytes.
//
// The size recorded in the trailer must match unpackedSize. Identical input
// always produces identical output; any inconsistency fails with
// ErrCorruptResource rather than returning partial data.
func Unpack(packed []byte, unpackedSize int) ([]byte, error) {
	if len(packed) < TrailerSize {
		return nil, corrupt("packed data too short: %d bytes", len(packed))
	}
	if len(packed)%4 != 0 {
		return nil, corrupt("packed length %d is not a multiple of 4", len(packed))
	}
	if unpackedSize <= 0 {
		return nil, corrupt("invalid unpacked size %d", unpackedSize)
	}

	end := len(packed)
	size := binary.BigEndian.Uint32(packed[end-4:])
	if uint64(size) != uint64(unpackedSize) {
		return nil, corrupt("trailer size %d does not match expected size %d", size, unpackedSize)
	}
	crc := binary.BigEndian.Uint32(packed[end-8:])
	chk := binary.BigEndian.Uint32(packed[end-12:])

	state := &unpackState{
		data:   packed,
		output: make([]byte, unpackedSize),
		packed: end - TrailerSize,
		out:    unpackedSize,
		chk:    chk,
		crc:    crc ^ chk,
	}

	for {
		state.decodeToken()
		if state.err != nil {
			return nil, state.err
		}
		if state.out == 0 {
			break
		}
	}

	if state.crc != 0 {
		return nil, corrupt("checksum mismatch (residue 0x%08x)", state.crc)
	}
	return state.output, nil
}

func (s *unpackState) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// nextBit returns the next bit of the stream, least significant bit of the
// control word first. A fresh word is loaded when only the sentinel is left.
func (s *unpackState) nextBit() uint32 {
	if s.err != nil {
		return 0
	}
	bit := s.chk & 1
	s.chk >>= 1
	if s.chk != 0 {
		return bit
	}

	if s.packed < 4 {
		s.fail(corrupt("packed stream exhausted with %d bytes left to produce", s.out))
		return 0
	}
	s.packed -= 4
	s.chk = binary.BigEndian.Uint32(s.data[s.packed:])
	s.crc ^= s.chk

	bit = s.chk & 1
	s.chk = s.chk>>1 | 1<<31
	return bit
}

// getCode reads numBits bits, most significant first.
func (s *unpackState) getCode(numBits int) int {
	c := 0
	for i := 0; i < numBits; i++ {
		c = c<<1 | int(s.nextBit())
	}
	return c
}

// literal copies count bytes read from the stream.
func (s *unpackState) literal(numBits, add int) {
	count := s.getCode(numBits) + add
	for i := 0; i < count && s.err == nil; i++ {
		if s.out == 0 {
			s.fail(corrupt("literal run overruns output"))
			return
		}
		s.out--
		s.output[s.out] = byte(s.getCode(8))
	}
}

// reference copies count bytes from the already produced output.
func (s *unpackState) reference(numBits, count int) {
	offset := s.getCode(numBits)
	if s.err != nil {
		return
	}
	if offset == 0 {
		s.fail(corrupt("zero back-reference offset at output position %d", s.out))
		return
	}
	for i := 0; i < count; i++ {
		if s.out == 0 {
			s.fail(corrupt("back-reference overruns output"))
			return
		}
		s.out--
		src := s.out + offset
		if src >= len(s.output) {
			s.fail(corrupt("back-reference offset %d past end of output", offset))
			return
		}
		s.output[s.out] = s.output[src]
	}
}

// decodeToken decodes one literal run or back-reference.
func (s *unpackState) decodeToken() {
	if s.nextBit() == 1 {
		switch code := s.getCode(2); code {
		case 3:
			s.literal(8, 9)
		case 0, 1:
			s.reference(code+9, code+3)
		default:
			count := s.getCode(8) + 1
			s.reference(12, count)
		}
		return
	}
	if s.nextBit() == 1 {
		s.reference(8, 2)
	} else {
		s.literal(3, 1)
	}
}
