package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/andresmejia3/rollcall/internal/tracker"
	"github.com/andresmejia3/rollcall/internal/types"
)

// PreviewFile keeps the latest annotated frame on disk for dashboards to poll.
type PreviewFile struct {
	Path    string
	Quality int
}

// Overlays converts tracker state into drawable boxes. Slots below the display
// threshold are labelled Unknown.
func Overlays(views []tracker.SlotView) []Overlay {
	out := make([]Overlay, 0, len(views))
	for _, v := range views {
		label := v.DisplayName
		if label == "" {
			label = types.Unknown
		}
		out = append(out, Overlay{Rect: RectOf(v.Rect), Label: label, Color: ColorFor(v.DisplayName)})
	}
	return out
}

// Render decodes frame, draws views on it and atomically replaces the preview file.
func (p *PreviewFile) Render(frame []byte, views []tracker.SlotView) error {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	dst := ToRGBA(img)
	Annotate(dst, Overlays(views))
	return writeJPEG(p.Path, dst, p.Quality)
}

func writeJPEG(path string, img image.Image, quality int) error {
	if quality <= 0 {
		quality = 85
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preview-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: quality}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
