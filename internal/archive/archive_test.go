package archive

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice", "alice"},
		{"Jean-Luc Picard", "jean-luc-picard"},
		{"Zoë Smith", "zoe-smith"},
		{"../../etc", "etc"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.in))
		})
	}
}

func TestSaveSuffixesCollisions(t *testing.T) {
	root := t.TempDir()
	d := &Dir{Root: root, Quality: 80}
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := d.Save(context.Background(), day, "Alice", img)
		require.NoError(t, err)
		paths = append(paths, p)
	}

	dir := filepath.Join(root, "2024-03-04")
	assert.Equal(t, []string{
		filepath.Join(dir, "alice.jpg"),
		filepath.Join(dir, "alice_1.jpg"),
		filepath.Join(dir, "alice_2.jpg"),
	}, paths)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	decoded, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	// a new day starts without a suffix
	p, err := d.Save(context.Background(), day.AddDate(0, 0, 1), "Alice", img)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2024-03-05", "alice.jpg"), p)
}

func TestSaveConcurrent(t *testing.T) {
	d := &Dir{Root: t.TempDir()}
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := d.Save(context.Background(), day, "Bob", img)
			assert.NoError(t, err)
			mu.Lock()
			seen[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8)
}

func TestSaveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Dir{Root: t.TempDir()}
	_, err := d.Save(ctx, time.Now(), "Alice", image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}
