package unpack

import "encoding/binary"

const (
	maxLiteralRun  = 264 // 9 + 0xff
	maxMatchLength = 256
	maxMatchOffset = 0xfff
)

// bitWriter accumulates bits in the order Unpack consumes them.
type bitWriter struct {
	words []uint32
	cur   uint32
	n     int
}

func (w *bitWriter) put(bit int) {
	w.cur |= uint32(bit&1) << w.n
	w.n++
	if w.n == 32 {
		w.words = append(w.words, w.cur)
		w.cur, w.n = 0, 0
	}
}

func (w *bitWriter) putCode(v, numBits int) {
	for i := numBits - 1; i >= 0; i-- {
		w.put(v >> i)
	}
}

// literals emits lits, already in output order (last byte of the run first).
func (w *bitWriter) literals(lits []byte) {
	for len(lits) > 0 {
		n := len(lits)
		if n >= 9 {
			if n > maxLiteralRun {
				n = maxLiteralRun
			}
			w.putCode(0x7, 3) // 1 11
			w.putCode(n-9, 8)
		} else {
			w.putCode(0x0, 2) // 0 0
			w.putCode(n-1, 3)
		}
		for _, b := range lits[:n] {
			w.putCode(int(b), 8)
		}
		lits = lits[n:]
	}
}

func (w *bitWriter) match(length, offset int) {
	switch {
	case length == 2:
		w.putCode(0x1, 2) // 0 1
		w.putCode(offset, 8)
	case length == 3 && offset <= 0x1ff:
		w.putCode(0x4, 3) // 1 00
		w.putCode(offset, 9)
	case length == 4 && offset <= 0x3ff:
		w.putCode(0x5, 3) // 1 01
		w.putCode(offset, 10)
	default:
		w.putCode(0x6, 3) // 1 10
		w.putCode(length-1, 8)
		w.putCode(offset, 12)
	}
}

// finish lays out the stream words backwards and appends the trailer.
func (w *bitWriter) finish(size int) []byte {
	if w.n > 0 {
		w.words = append(w.words, w.cur)
	}
	const chk = 1 // sentinel only, the first bit comes from the first stream word
	crc := uint32(chk)
	for _, word := range w.words {
		crc ^= word
	}

	out := make([]byte, 0, 4*len(w.words)+TrailerSize)
	for i := len(w.words) - 1; i >= 0; i-- {
		out = binary.BigEndian.AppendUint32(out, w.words[i])
	}
	out = binary.BigEndian.AppendUint32(out, chk)
	out = binary.BigEndian.AppendUint32(out, crc)
	out = binary.BigEndian.AppendUint32(out, uint32(size))
	return out
}

// longestMatch finds the longest run ending at p that repeats bytes already
// produced (at higher positions). Shorter offsets win ties.
func longestMatch(data []byte, p int) (length, offset int) {
	maxOffset := len(data) - p
	if maxOffset > maxMatchOffset {
		maxOffset = maxMatchOffset
	}
	limit := p
	if limit > maxMatchLength {
		limit = maxMatchLength
	}
	for off := 1; off <= maxOffset; off++ {
		l := 0
		for l < limit && data[p-1-l] == data[p-1-l+off] {
			l++
		}
		if l > length {
			length, offset = l, off
			if l == limit {
				break
			}
		}
	}
	return length, offset
}

// worthMatching reports whether a match is cheaper than the same bytes as
// literals.
func worthMatching(length, offset int) bool {
	switch {
	case length >= 3:
		return true
	case length == 2:
		return offset <= 0xff
	default:
		return false
	}
}

// Pack compresses data into the format read by Unpack, using a greedy longest
// match search. It is the reference packer used to build synthetic banks; the
// original game data was produced by a different packer but decodes through
// the same token table.
func Pack(data []byte) []byte {
	w := &bitWriter{}
	var lits []byte

	p := len(data)
	for p > 0 {
		length, offset := longestMatch(data, p)
		if worthMatching(length, offset) {
			w.literals(lits)
			lits = lits[:0]
			w.match(length, offset)
			p -= length
			continue
		}
		p--
		lits = append(lits, data[p])
	}
	w.literals(lits)

	return w.finish(len(data))
}
