package resource

import (
	"fmt"
	"image"
	"image/color"
)

const (
	// ScreenWidth and ScreenHeight are the dimensions of a video page.
	ScreenWidth  = 320
	ScreenHeight = 200

	bitmapPlaneSize = ScreenWidth * ScreenHeight / 8
	// BitmapSize is the unpacked size of a bitmap resource.
	BitmapSize = 4 * bitmapPlaneSize

	paletteColors = 16
	// PaletteSize is the size of one palette inside a palette resource.
	PaletteSize = paletteColors * 2
)

// DecodeBitmap converts a 4-plane bitmap into one palette index per pixel.
// Plane n holds bit n of every pixel; within a byte the most significant bit
// is the leftmost pixel.
func DecodeBitmap(data []byte) ([]byte, error) {
	if len(data) != BitmapSize {
		return nil, fmt.Errorf("bitmap: got %d bytes, want %d", len(data), BitmapSize)
	}
	pix := make([]byte, ScreenWidth*ScreenHeight)
	for i := 0; i < bitmapPlaneSize; i++ {
		for plane := 0; plane < 4; plane++ {
			b := data[plane*bitmapPlaneSize+i]
			for bit := 0; bit < 8; bit++ {
				pix[i*8+7-bit] |= (b >> bit & 1) << plane
			}
		}
	}
	return pix, nil
}

// EncodeBitmap is the inverse of DecodeBitmap. Indices above 15 are truncated.
func EncodeBitmap(pix []byte) ([]byte, error) {
	if len(pix) != ScreenWidth*ScreenHeight {
		return nil, fmt.Errorf("bitmap: got %d pixels, want %d", len(pix), ScreenWidth*ScreenHeight)
	}
	data := make([]byte, BitmapSize)
	for i, p := range pix {
		for plane := 0; plane < 4; plane++ {
			if p>>plane&1 != 0 {
				data[plane*bitmapPlaneSize+i/8] |= 0x80 >> (i % 8)
			}
		}
	}
	return data, nil
}

// DecodePalette returns palette n of a palette resource.
func DecodePalette(data []byte, n int) (color.Palette, error) {
	off := n * PaletteSize
	if n < 0 || off+PaletteSize > len(data) {
		return nil, fmt.Errorf("palette %d: out of range of %d byte resource", n, len(data))
	}
	pal := make(color.Palette, paletteColors)
	for i := range pal {
		c1, c2 := data[off+i*2], data[off+i*2+1]
		pal[i] = color.RGBA{
			R: expand4(c1 & 0x0f),
			G: expand4(c2 >> 4),
			B: expand4(c2 & 0x0f),
			A: 0xff,
		}
	}
	return pal, nil
}

func expand4(v byte) byte {
	return v<<4 | v
}

// GrayPalette is used when a bitmap is exported without its scene palette.
func GrayPalette() color.Palette {
	pal := make(color.Palette, paletteColors)
	for i := range pal {
		v := expand4(byte(i))
		pal[i] = color.RGBA{R: v, G: v, B: v, A: 0xff}
	}
	return pal
}

// Bitmap converts a bitmap resource into an image using pal.
func Bitmap(data []byte, pal color.Palette) (*image.Paletted, error) {
	pix, err := DecodeBitmap(data)
	if err != nil {
		return nil, err
	}
	img := image.NewPaletted(image.Rect(0, 0, ScreenWidth, ScreenHeight), pal)
	copy(img.Pix, pix)
	return img, nil
}
