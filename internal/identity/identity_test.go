package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileKnown(t *testing.T) {
	path := writeFile(t, `
identities:
  - name: Alice
    descriptor: [0.1, 0.2]
  - name: Bob
    descriptor: [0.9, 0.8]
`)

	known, err := (&File{Path: path}).Known(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.KnownIdentity{
		{Name: "Alice", Descriptor: []float64{0.1, 0.2}},
		{Name: "Bob", Descriptor: []float64{0.9, 0.8}},
	}, known)
}

func TestFileErrors(t *testing.T) {
	_, err := (&File{Path: filepath.Join(t.TempDir(), "missing.yaml")}).Known(context.Background())
	assert.Error(t, err)

	_, err = (&File{Path: writeFile(t, "identities: [ {name: ")}).Known(context.Background())
	assert.Error(t, err)

	_, err = (&File{Path: writeFile(t, "identities:\n  - descriptor: [1]\n")}).Known(context.Background())
	assert.Error(t, err)
}

type staticSource []types.KnownIdentity

func (s staticSource) Known(context.Context) ([]types.KnownIdentity, error) { return s, nil }

func TestLoad(t *testing.T) {
	m, err := Load(context.Background(), staticSource{
		{Name: "Alice", Descriptor: []float64{0, 0}},
		{Name: "Alice", Descriptor: []float64{0, 0.1}},
	}, matcher.Options{Threshold: 0.4})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, m.Names())

	_, err = Load(context.Background(), staticSource{
		{Name: "Alice", Descriptor: []float64{0, 0}},
		{Name: "Bob", Descriptor: []float64{0}},
	}, matcher.Options{})
	assert.ErrorIs(t, err, matcher.ErrDimension)

	m, err = Load(context.Background(), staticSource{}, matcher.Options{})
	require.NoError(t, err)
	assert.Empty(t, m.Names())
}
