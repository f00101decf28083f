package resource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MemListName is the index file in the data directory.
	MemListName = "memlist.bin"

	memListRecordSize = 20
	memListEnd        = 0xff
)

// ParseMemList reads the memlist index. Records are 20 bytes, big-endian:
//
//	state u8, type u8, _ u16, _ u16, rank u8, bank u8, offset u32,
//	_ u16, packed size u16, _ u16, size u16
//
// The unnamed fields were pointers in the original memory layout. A state of
// 0xff ends the list; any other state than 0 is rejected. The position of a
// record in the file is its resource id.
func ParseMemList(r io.Reader) ([]Descriptor, error) {
	var descs []Descriptor
	var rec [memListRecordSize]byte

	for {
		if _, err := io.ReadFull(r, rec[:1]); err != nil {
			return nil, fmt.Errorf("memlist: record %d: %w", len(descs), eofAsUnexpected(err))
		}
		if rec[0] == memListEnd {
			return descs, nil
		}
		if _, err := io.ReadFull(r, rec[1:]); err != nil {
			return nil, fmt.Errorf("memlist: record %d: %w", len(descs), eofAsUnexpected(err))
		}
		if rec[0] != 0 {
			return nil, fmt.Errorf("memlist: record %d: invalid state 0x%02x", len(descs), rec[0])
		}

		d := Descriptor{
			ID:         len(descs),
			Type:       Type(rec[1]),
			Rank:       rec[6],
			BankID:     rec[7],
			BankOffset: binary.BigEndian.Uint32(rec[8:12]),
			PackedSize: int(binary.BigEndian.Uint16(rec[14:16])),
			Size:       int(binary.BigEndian.Uint16(rec[18:20])),
		}
		if !d.Type.valid() {
			return nil, fmt.Errorf("memlist: record %d: invalid resource type %d", d.ID, rec[1])
		}
		descs = append(descs, d)
	}
}

// AppendMemList appends the encoded form of descs, terminator included.
func AppendMemList(dst []byte, descs []Descriptor) []byte {
	for _, d := range descs {
		var rec [memListRecordSize]byte
		rec[1] = byte(d.Type)
		rec[6] = d.Rank
		rec[7] = d.BankID
		binary.BigEndian.PutUint32(rec[8:12], d.BankOffset)
		binary.BigEndian.PutUint16(rec[14:16], uint16(d.PackedSize))
		binary.BigEndian.PutUint16(rec[18:20], uint16(d.Size))
		dst = append(dst, rec[:]...)
	}
	var end [memListRecordSize]byte
	end[0] = memListEnd
	return append(dst, end[:]...)
}

func eofAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
