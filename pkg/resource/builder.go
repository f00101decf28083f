package resource

import (
	"fmt"

	"github.com/zurustar/ootw/pkg/unpack"
)

// BankBuilder assembles a memlist index and bank files from raw resources.
// It is used to build synthetic data directories for tests and tooling.
type BankBuilder struct {
	descs []Descriptor
	data  [][]byte
	banks map[uint8][]byte
}

// NewBankBuilder starts an index with the placeholder entry 0.
func NewBankBuilder() *BankBuilder {
	return &BankBuilder{
		descs: []Descriptor{{}},
		data:  [][]byte{nil},
		banks: make(map[uint8][]byte),
	}
}

// Add appends a resource to bank and returns its id. When pack is true and
// packing actually shrinks the data, it is stored packed.
func (b *BankBuilder) Add(t Type, bank uint8, data []byte, pack bool) int {
	stored := data
	if pack && len(data) > 0 {
		if p := unpack.Pack(data); len(p) < len(data) {
			stored = p
		}
	}
	return b.AddStored(t, bank, stored, len(data))
}

// AddStored appends already encoded bytes with an explicit unpacked size,
// which lets tests store corrupt or mismatched entries.
func (b *BankBuilder) AddStored(t Type, bank uint8, stored []byte, size int) int {
	id := len(b.descs)
	b.descs = append(b.descs, Descriptor{
		ID:         id,
		Type:       t,
		BankID:     bank,
		BankOffset: uint32(len(b.banks[bank])),
		PackedSize: len(stored),
		Size:       size,
	})
	b.data = append(b.data, stored)
	b.banks[bank] = append(b.banks[bank], stored...)
	return id
}

// Set places a resource at a fixed id, padding the index with empty entries.
// Scene resources live at fixed ids so tests building a scene need this.
func (b *BankBuilder) Set(id int, t Type, bank uint8, data []byte, pack bool) {
	for len(b.descs) < id {
		b.AddStored(TypeSound, bank, nil, 0)
	}
	if id < len(b.descs) {
		panic(fmt.Sprintf("resource 0x%02x already set", id))
	}
	b.Add(t, bank, data, pack)
}

// Descriptors returns the index built so far.
func (b *BankBuilder) Descriptors() []Descriptor {
	return append([]Descriptor(nil), b.descs...)
}

// Files returns the memlist and bank files keyed by file name.
func (b *BankBuilder) Files() map[string][]byte {
	files := map[string][]byte{MemListName: AppendMemList(nil, b.descs)}
	for id, bank := range b.banks {
		files[BankName(id)] = append([]byte(nil), bank...)
	}
	return files
}
