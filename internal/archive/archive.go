package archive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/gosimple/slug"
)

var log = event.Log

// maxSuffix bounds the collision search for one name on one day.
const maxSuffix = 10000

// PhotoArchive stores confirmation snapshots.
type PhotoArchive interface {
	Save(ctx context.Context, day time.Time, name string, img image.Image) (string, error)
}

// Dir writes snapshots to <Root>/<YYYY-MM-DD>/<slug>.jpg, adding _1, _2, ... when a file
// for the same name already exists that day.
type Dir struct {
	Root    string
	Quality int
}

// FileName is the base name used for name before any collision suffix.
func FileName(name string) string {
	s := slug.Make(name)
	if s == "" {
		s = "unknown"
	}
	return s
}

func (d *Dir) Save(ctx context.Context, day time.Time, name string, img image.Image) (string, error) {
	dir := filepath.Join(d.Root, day.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	f, path, err := d.create(ctx, dir, FileName(name))
	if err != nil {
		return "", err
	}

	quality := d.Quality
	if quality <= 0 {
		quality = 90
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	log.Debugf("archive: saved %s", path)
	return path, nil
}

// create claims the first free file name. O_EXCL makes the claim atomic, so two
// concurrent saves for the same name never share a file.
func (d *Dir) create(ctx context.Context, dir, base string) (*os.File, string, error) {
	for i := 0; i < maxSuffix; i++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		name := base + ".jpg"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.jpg", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create snapshot file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("too many snapshots for %s in %s", base, dir)
}
