package window

import (
	"image"
	"image/color"
	"sync"

	"github.com/zurustar/ootw/pkg/logger"
	"github.com/zurustar/ootw/pkg/resource"
	"github.com/zurustar/ootw/pkg/vm"
)

const numPages = 4

// View is the renderer of the window. It keeps the palette, the fill
// color and the last bitmap of each page, and the page on screen. Polygons
// and text are counted only.
type View struct {
	mu       sync.Mutex
	palette  color.Palette
	fills    [numPages]uint8
	bitmaps  [numPages]*image.Paletted
	front    int
	version  uint64
	counts   map[vm.DrawKind]int
	paletteN int
}

func NewView() *View {
	return &View{
		palette: resource.GrayPalette(),
		counts:  map[vm.DrawKind]int{},
	}
}

// Draw implements vm.Renderer.
func (v *View) Draw(req vm.DrawRequest) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.counts[req.Kind]++
	page := req.Page & (numPages - 1)
	switch req.Kind {
	case vm.DrawPalette:
		pal, err := resource.DecodePalette(req.Data, 0)
		if err != nil {
			logger.GetLogger().Warn("Bad palette", "palette", req.Palette, "error", err)
			return
		}
		v.palette = pal
		v.paletteN = req.Palette
		for _, b := range v.bitmaps {
			if b != nil {
				b.Palette = pal
			}
		}
	case vm.DrawFill:
		v.fills[page] = req.Color
		v.bitmaps[page] = nil
	case vm.DrawBitmap:
		img, err := resource.Bitmap(req.Data, v.palette)
		if err != nil {
			logger.GetLogger().Warn("Bad bitmap", "resource", req.ResourceID, "error", err)
			return
		}
		v.bitmaps[page] = img
	case vm.DrawCopy:
		src := req.SrcPage & (numPages - 1)
		v.fills[page] = v.fills[src]
		if b := v.bitmaps[src]; b != nil {
			cp := *b
			cp.Pix = append([]uint8(nil), b.Pix...)
			v.bitmaps[page] = &cp
		} else {
			v.bitmaps[page] = nil
		}
	case vm.DrawPresent:
		v.front = page
	default:
		return
	}
	v.version++
}

// Frame returns the image of the page on screen and a version number that
// changes whenever the image may have changed.
func (v *View) Frame() (image.Image, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if b := v.bitmaps[v.front]; b != nil {
		return b, v.version
	}
	img := image.NewPaletted(image.Rect(0, 0, resource.ScreenWidth, resource.ScreenHeight), v.palette)
	fill := v.fills[v.front]
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img, v.version
}

// Count returns the number of requests of kind k received so far.
func (v *View) Count(k vm.DrawKind) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[k]
}

// PaletteIndex returns the index of the palette last selected.
func (v *View) PaletteIndex() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paletteN
}

// FrontPage returns the page on screen.
func (v *View) FrontPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.front
}
