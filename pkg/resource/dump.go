package resource

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/sync/errgroup"
)

// DumpName returns the file name Dump uses for d.
func DumpName(d Descriptor) string {
	ext := "bin"
	if d.Type == TypeBitmap {
		ext = "bmp"
	}
	return fmt.Sprintf("%02x_%s.%s", d.ID, strings.ToLower(d.Type.String()), ext)
}

// Dump unpacks every non-empty resource into dir. Bitmaps are written as BMP
// files with a gray palette, everything else as raw unpacked bytes.
func (m *Manager) Dump(ctx context.Context, dir string, workers int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, d := range m.Descriptors() {
		if d.ID == 0 || d.Size == 0 {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := m.Load(d.ID)
			if err != nil {
				return err
			}
			if d.Type == TypeBitmap {
				if data, err = encodeBMP(data); err != nil {
					return fmt.Errorf("resource 0x%02x: %w", d.ID, err)
				}
			}
			path := filepath.Join(dir, DumpName(d))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			m.log.Debug("Resource dumped", "id", fmt.Sprintf("0x%02x", d.ID), "path", path)
			return nil
		})
	}
	return g.Wait()
}

func encodeBMP(data []byte) ([]byte, error) {
	img, err := Bitmap(data, GrayPalette())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
