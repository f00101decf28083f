package resource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/zurustar/ootw/pkg/fileutil"
	"github.com/zurustar/ootw/pkg/unpack"
	"golang.org/x/image/bmp"
)

func mapFS(files map[string][]byte) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: data}
	}
	return fsys
}

func newTestManager(t *testing.T, b *BankBuilder) *Manager {
	t.Helper()
	m, err := NewManager(fileutil.NewFS(mapFS(b.Files()), "test"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestParseMemList(t *testing.T) {
	descs := []Descriptor{
		{},
		{ID: 1, Type: TypeBytecode, Rank: 3, BankID: 0x0d, BankOffset: 0x1234, PackedSize: 100, Size: 200},
		{ID: 2, Type: TypeBitmap, BankID: 0x01, BankOffset: 0x10000, PackedSize: 32000, Size: 32000},
	}

	got, err := ParseMemList(bytes.NewReader(AppendMemList(nil, descs)))
	if err != nil {
		t.Fatalf("ParseMemList failed: %v", err)
	}
	if len(got) != len(descs) {
		t.Fatalf("got %d descriptors, want %d", len(got), len(descs))
	}
	for i := range descs {
		if got[i] != descs[i] {
			t.Errorf("descriptor %d = %+v, want %+v", i, got[i], descs[i])
		}
	}
}

func TestParseMemListRecordLayout(t *testing.T) {
	rec := []byte{
		0x00, 0x04, 0xaa, 0xaa, 0xbb, 0xbb, 0x02, 0x0e, 0x00, 0x01, 0x02, 0x03,
		0xcc, 0xcc, 0x01, 0x00, 0xdd, 0xdd, 0x02, 0x00,
		0xff,
	}
	got, err := ParseMemList(bytes.NewReader(rec))
	if err != nil {
		t.Fatalf("ParseMemList failed: %v", err)
	}
	want := Descriptor{ID: 0, Type: TypeBytecode, Rank: 2, BankID: 0x0e, BankOffset: 0x010203, PackedSize: 0x100, Size: 0x200}
	if len(got) != 1 || got[0] != want {
		t.Errorf("ParseMemList = %+v, want [%+v]", got, want)
	}
}

func TestParseMemListErrors(t *testing.T) {
	valid := AppendMemList(nil, []Descriptor{{Type: TypeSound}})

	badType := append([]byte(nil), valid...)
	badType[1] = 7

	badState := append([]byte(nil), valid...)
	badState[0] = 1

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"missing terminator", valid[:memListRecordSize]},
		{"truncated record", valid[:10]},
		{"invalid type", badType},
		{"invalid state", badState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMemList(bytes.NewReader(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	_, err := ParseMemList(bytes.NewReader(nil))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestManagerResolve(t *testing.T) {
	code := bytes.Repeat([]byte{0x06, 0x07, 0x00, 0x00}, 200)
	raw := []byte{1, 2, 3, 4, 5}

	b := NewBankBuilder()
	packedID := b.Add(TypeBytecode, 1, code, true)
	rawID := b.Add(TypePalette, 2, raw, false)
	m := newTestManager(t, b)

	d, _ := m.Descriptor(packedID)
	if !d.Packed() {
		t.Fatal("expected the bytecode to be stored packed")
	}

	if err := m.Require(packedID, rawID); err != nil {
		t.Fatalf("Require failed: %v", err)
	}

	tests := []struct {
		name string
		id   int
		want []byte
	}{
		{"packed", packedID, code},
		{"stored raw", rawID, raw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Resolve(tt.id)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Resolve(%d) returned %d bytes, want %d", tt.id, len(got), len(tt.want))
			}
		})
	}
}

func TestManagerErrors(t *testing.T) {
	good := bytes.Repeat([]byte("abcd"), 64)
	corrupt := unpack.Pack(good)
	corrupt[len(corrupt)-5] ^= 0x40

	b := NewBankBuilder()
	goodID := b.Add(TypeCinematic, 1, good, true)
	corruptID := b.AddStored(TypeCinematic, 1, corrupt, len(good))
	oversizedID := b.AddStored(TypeCinematic, 1, good, len(good)-1)
	m := newTestManager(t, b)

	tests := []struct {
		name    string
		require bool
		id      int
		want    error
	}{
		{"not loaded", false, goodID, ErrResourceNotLoaded},
		{"id zero", false, 0, ErrUnknownResource},
		{"out of range", false, 999, ErrUnknownResource},
		{"negative", false, -1, ErrUnknownResource},
		{"corrupt", true, corruptID, unpack.ErrCorruptResource},
		{"stored larger than unpacked", true, oversizedID, unpack.ErrCorruptResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.require {
				if err := m.Require(tt.id); err != nil {
					t.Fatalf("Require failed: %v", err)
				}
			}
			_, err := m.Resolve(tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve(%d) error = %v, want %v", tt.id, err, tt.want)
			}
		})
	}

	if err := m.Require(goodID, 999); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Require with unknown id error = %v", err)
	}
	if got := m.Loaded(); len(got) != 1 || got[0] != corruptID {
		t.Errorf("a failed Require must not mark any id, loaded = %v", got)
	}
}

// countingFS counts the bank reads going through it.
type countingFS struct {
	fileutil.FileSystem
	mu    sync.Mutex
	opens map[string]int
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.mu.Lock()
	c.opens[strings.ToLower(name)]++
	c.mu.Unlock()
	return c.FileSystem.Open(name)
}

func (c *countingFS) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}

func TestManagerCachesAndEvicts(t *testing.T) {
	b := NewBankBuilder()
	id := b.Add(TypeVideo, 3, bytes.Repeat([]byte{0x11, 0x22}, 300), true)

	fsys := &countingFS{FileSystem: fileutil.NewFS(mapFS(b.Files()), "test"), opens: map[string]int{}}
	m, err := NewManager(fsys)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	first, err := m.Load(id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := m.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("second resolution should return the cached buffer")
	}
	if n := fsys.count("bank03"); n != 1 {
		t.Errorf("bank03 opened %d times, want 1", n)
	}

	m.Evict()
	if _, err := m.Resolve(id); !errors.Is(err, ErrResourceNotLoaded) {
		t.Errorf("Resolve after Evict error = %v, want ErrResourceNotLoaded", err)
	}
	if len(m.Loaded()) != 0 {
		t.Errorf("Loaded after Evict = %v", m.Loaded())
	}

	if _, err := m.Load(id); err != nil {
		t.Fatalf("Load after Evict failed: %v", err)
	}
	if n := fsys.count("bank03"); n != 2 {
		t.Errorf("bank03 opened %d times after eviction, want 2", n)
	}
}

func TestManagerMissingBank(t *testing.T) {
	b := NewBankBuilder()
	id := b.Add(TypeSound, 5, []byte{1, 2, 3}, false)
	files := b.Files()
	delete(files, "bank05")

	m, err := NewManager(fileutil.NewFS(mapFS(files), "test"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := m.Load(id); err == nil {
		t.Error("expected an error for a missing bank file")
	}
}

func TestNewManagerWithoutMemList(t *testing.T) {
	if _, err := NewManager(fileutil.NewFS(fstest.MapFS{}, "empty")); err == nil {
		t.Error("expected an error without memlist.bin")
	}
}

func TestNewManagerCaseInsensitive(t *testing.T) {
	b := NewBankBuilder()
	id := b.Add(TypeSound, 1, []byte{7, 7, 7}, false)
	files := b.Files()

	upper := map[string][]byte{}
	for name, data := range files {
		upper[strings.ToUpper(name)] = data
	}
	m, err := NewManager(fileutil.NewFS(mapFS(upper), "test"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := m.Load(id); err != nil {
		t.Errorf("Load failed: %v", err)
	}
}

func TestSceneTable(t *testing.T) {
	if len(Scenes) != 9 {
		t.Fatalf("got %d scenes, want 9", len(Scenes))
	}
	for i, s := range Scenes {
		if s.Index != i {
			t.Errorf("scene %d has index %d", i, s.Index)
		}
	}

	s, err := SceneByIndex(2)
	if err != nil {
		t.Fatalf("SceneByIndex failed: %v", err)
	}
	if want := []int{0x1a, 0x1b, 0x1c, 0x11}; !equalInts(s.Resources(), want) {
		t.Errorf("scene 2 resources = %v, want %v", s.Resources(), want)
	}
	if got := Scenes[0].Resources(); len(got) != 3 {
		t.Errorf("scene 0 resources = %v, want three ids", got)
	}

	for _, idx := range []int{-1, 9} {
		if _, err := SceneByIndex(idx); !errors.Is(err, ErrUnknownScene) {
			t.Errorf("SceneByIndex(%d) error = %v", idx, err)
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadScene(t *testing.T) {
	s := Scenes[1]
	b := NewBankBuilder()
	b.Set(s.Palette, TypePalette, 1, make([]byte, 32*PaletteSize), true)
	b.Set(s.Code, TypeBytecode, 1, []byte{0x06, 0x07, 0x00, 0x00}, false)
	b.Set(s.Cinematic, TypeCinematic, 2, bytes.Repeat([]byte{0xc0}, 64), true)
	other := b.Add(TypeSound, 2, []byte{1}, false)
	m := newTestManager(t, b)

	if _, err := m.Load(other); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	seg, err := m.LoadScene(s)
	if err != nil {
		t.Fatalf("LoadScene failed: %v", err)
	}
	if !bytes.Equal(seg.Code, []byte{0x06, 0x07, 0x00, 0x00}) {
		t.Errorf("code = %x", seg.Code)
	}
	if seg.Video2 != nil {
		t.Error("scene 1 has no shared video segment")
	}
	if _, err := m.Resolve(other); !errors.Is(err, ErrResourceNotLoaded) {
		t.Errorf("resources of the previous scene should be evicted, got %v", err)
	}
	if got := m.Loaded(); !equalInts(got, []int{s.Palette, s.Code, s.Cinematic}) {
		t.Errorf("Loaded = %v", got)
	}
}

func TestLoadAllConcurrent(t *testing.T) {
	b := NewBankBuilder()
	var want [][]byte
	for i := 0; i < 20; i++ {
		data := bytes.Repeat([]byte{byte(i), byte(i * 3)}, 100+i)
		b.Add(TypeCinematic, uint8(i%3), data, true)
		want = append(want, data)
	}
	m := newTestManager(t, b)

	if err := m.LoadAll(context.Background(), 4); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	for i, data := range want {
		got, err := m.Resolve(i + 1)
		if err != nil {
			t.Fatalf("Resolve(%d) failed: %v", i+1, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("resource %d mismatch", i+1)
		}
	}
}

func TestStatsAndIndex(t *testing.T) {
	b := NewBankBuilder()
	b.Add(TypeSound, 1, []byte{1, 2, 3}, false)
	b.Add(TypeSound, 1, []byte{4}, false)
	b.Add(TypeBytecode, 1, []byte{6}, false)
	m := newTestManager(t, b)

	var sound TypeStats
	for _, s := range m.Stats() {
		if s.Type == TypeSound {
			sound = s
		}
	}
	// the placeholder entry 0 is typed as a sound
	if sound.Count != 3 || sound.Size != 4 {
		t.Errorf("sound stats = %+v", sound)
	}

	index := m.FormatIndex()
	if !strings.Contains(index, "Bytecode") || strings.Count(index, "\n") != 4 {
		t.Errorf("unexpected index:\n%s", index)
	}
}

func TestDecodePalette(t *testing.T) {
	data := make([]byte, 2*PaletteSize)
	// palette 1, color 2: r=0xf g=0x8 b=0x1
	data[PaletteSize+4] = 0x0f
	data[PaletteSize+5] = 0x81

	pal, err := DecodePalette(data, 1)
	if err != nil {
		t.Fatalf("DecodePalette failed: %v", err)
	}
	r, g, bl, _ := pal[2].RGBA()
	if r>>8 != 0xff || g>>8 != 0x88 || bl>>8 != 0x11 {
		t.Errorf("color = %02x %02x %02x", r>>8, g>>8, bl>>8)
	}

	if _, err := DecodePalette(data, 2); err == nil {
		t.Error("expected an error for a palette past the end")
	}
}

func TestDecodeBitmapPlanes(t *testing.T) {
	data := make([]byte, BitmapSize)
	// first byte of plane 0 and plane 2: leftmost pixel gets 0b0101
	data[0] = 0x80
	data[2*bitmapPlaneSize] = 0x80
	// plane 3, last byte, lowest bit: last pixel gets 0b1000
	data[BitmapSize-1] = 0x01

	pix, err := DecodeBitmap(data)
	if err != nil {
		t.Fatalf("DecodeBitmap failed: %v", err)
	}
	if pix[0] != 5 {
		t.Errorf("pixel 0 = %d, want 5", pix[0])
	}
	if pix[1] != 0 {
		t.Errorf("pixel 1 = %d, want 0", pix[1])
	}
	if pix[len(pix)-1] != 8 {
		t.Errorf("last pixel = %d, want 8", pix[len(pix)-1])
	}

	if _, err := DecodeBitmap(data[:100]); err == nil {
		t.Error("expected an error for a short bitmap")
	}
}

func TestDump(t *testing.T) {
	pix := make([]byte, ScreenWidth*ScreenHeight)
	for i := range pix {
		pix[i] = byte(i % 16)
	}
	bitmap, err := EncodeBitmap(pix)
	if err != nil {
		t.Fatalf("EncodeBitmap failed: %v", err)
	}

	b := NewBankBuilder()
	codeID := b.Add(TypeBytecode, 1, []byte{0x11}, false)
	bmpID := b.Add(TypeBitmap, 1, bitmap, true)
	m := newTestManager(t, b)

	dir := t.TempDir()
	if err := m.Dump(context.Background(), dir, 2); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	code, err := os.ReadFile(filepath.Join(dir, DumpName(Descriptor{ID: codeID, Type: TypeBytecode})))
	if err != nil {
		t.Fatalf("bytecode not dumped: %v", err)
	}
	if !bytes.Equal(code, []byte{0x11}) {
		t.Errorf("dumped bytecode = %x", code)
	}

	f, err := os.Open(filepath.Join(dir, DumpName(Descriptor{ID: bmpID, Type: TypeBitmap})))
	if err != nil {
		t.Fatalf("bitmap not dumped: %v", err)
	}
	defer f.Close()
	img, err := bmp.Decode(f)
	if err != nil {
		t.Fatalf("dumped bitmap is not a BMP: %v", err)
	}
	if img.Bounds().Dx() != ScreenWidth || img.Bounds().Dy() != ScreenHeight {
		t.Errorf("bitmap bounds = %v", img.Bounds())
	}
	// pixel 3 has palette index 3, gray 0x33
	r, _, _, _ := img.At(3, 0).RGBA()
	if r>>8 != 0x33 {
		t.Errorf("pixel 3 red = %02x, want 33", r>>8)
	}
}

func TestPropertyBitmapRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("EncodeBitmap and DecodeBitmap are inverse", prop.ForAll(
		func(seed []byte) bool {
			pix := make([]byte, ScreenWidth*ScreenHeight)
			for i := range pix {
				pix[i] = seed[i%len(seed)] & 0x0f
			}
			data, err := EncodeBitmap(pix)
			if err != nil {
				return false
			}
			got, err := DecodeBitmap(data)
			return err == nil && bytes.Equal(got, pix)
		},
		gen.SliceOfN(97, gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestPropertyManagerReturnsStoredBytes(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every added resource resolves to its bytes", prop.ForAll(
		func(data []byte, pack bool) bool {
			if len(data) == 0 {
				return true
			}
			b := NewBankBuilder()
			b.Add(TypeSound, 1, []byte{0xee}, false)
			id := b.Add(TypeVideo, 1, data, pack)
			m, err := NewManager(fileutil.NewFS(mapFS(b.Files()), "prop"))
			if err != nil {
				return false
			}
			got, err := m.Load(id)
			return err == nil && bytes.Equal(got, data)
		},
		gen.SliceOf(gen.UInt8Range(0, 3)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
