package matcher

import (
	"math"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		a, b   []float64
		want   float64
	}{
		{"euclidean identical", Euclidean, []float64{1, 2}, []float64{1, 2}, 0},
		{"euclidean 3-4-5", Euclidean, []float64{0, 0}, []float64{3, 4}, 5},
		{"cosine identical", Cosine, []float64{1, 0}, []float64{1, 0}, 0},
		{"cosine orthogonal", Cosine, []float64{1, 0}, []float64{0, 1}, 1},
		{"cosine opposite", Cosine, []float64{1, 0}, []float64{-1, 0}, 2},
		{"cosine scaled", Cosine, []float64{1, 0}, []float64{5, 0}, 0},
		{"cosine zero vector", Cosine, []float64{0, 0}, []float64{1, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.metric, tt.a, tt.b)
			require.NoError(t, err)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Distance(Euclidean, []float64{1, 2}, []float64{1})
		assert.ErrorIs(t, err, ErrDimension)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := Distance(Euclidean, nil, nil)
		assert.ErrorIs(t, err, ErrDimension)
	})
}

func TestMatch(t *testing.T) {
	known := []types.KnownIdentity{
		{Name: "Alice", Descriptor: []float64{0, 0}},
		{Name: "Bob", Descriptor: []float64{1, 0}},
	}

	t.Run("nearest within threshold", func(t *testing.T) {
		name, d, err := Match([]float64{0.9, 0}, known, 0.4)
		require.NoError(t, err)
		assert.Equal(t, "Bob", name)
		assert.InDelta(t, 0.1, d, 1e-9)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		name, _, err := Match([]float64{0, 0.5}, known, 0.5)
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	})

	t.Run("beyond threshold is unknown", func(t *testing.T) {
		name, d, err := Match([]float64{0.5, 0.5}, known, 0.4)
		require.NoError(t, err)
		assert.Equal(t, types.Unknown, name)
		assert.Greater(t, d, 0.4)
	})

	t.Run("tie goes to earliest inserted", func(t *testing.T) {
		name, _, err := Match([]float64{0.5, 0}, known, 0.6)
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	})

	t.Run("no known identities", func(t *testing.T) {
		name, _, err := Match([]float64{0.5, 0}, nil, 0.4)
		require.NoError(t, err)
		assert.Equal(t, types.Unknown, name)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, _, err := Match([]float64{0.5, 0, 1}, known, 0.4)
		assert.ErrorIs(t, err, ErrDimension)
	})
}

func TestNew(t *testing.T) {
	t.Run("mixed dimensions fail fast", func(t *testing.T) {
		_, err := New([]types.KnownIdentity{
			{Name: "Alice", Descriptor: []float64{0, 0}},
			{Name: "Bob", Descriptor: []float64{0, 0, 0}},
		}, Options{})
		assert.ErrorIs(t, err, ErrDimension)
	})

	t.Run("names are distinct and ordered", func(t *testing.T) {
		m, err := New([]types.KnownIdentity{
			{Name: "Carol", Descriptor: []float64{0, 1}},
			{Name: "Alice", Descriptor: []float64{0, 0}},
			{Name: "Carol", Descriptor: []float64{0, 2}},
		}, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Carol", "Alice"}, m.Names())
		assert.Equal(t, 2, m.Dim())
	})

	t.Run("empty snapshot matches nothing", func(t *testing.T) {
		m, err := New(nil, Options{})
		require.NoError(t, err)
		name, _, err := m.Match([]float64{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, types.Unknown, name)
	})
}

func TestMatcherVote(t *testing.T) {
	// Bob owns the single closest descriptor, Alice owns two slightly farther ones.
	known := []types.KnownIdentity{
		{Name: "Alice", Descriptor: []float64{0.2, 0}},
		{Name: "Bob", Descriptor: []float64{0.1, 0}},
		{Name: "Alice", Descriptor: []float64{0, 0.2}},
	}
	query := []float64{0, 0}

	nearestM, err := New(known, Options{Threshold: 0.4, Strategy: Nearest})
	require.NoError(t, err)
	name, _, err := nearestM.Match(query)
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)

	voteM, err := New(known, Options{Threshold: 0.4, Strategy: Vote})
	require.NoError(t, err)
	name, d, err := voteM.Match(query)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	assert.InDelta(t, 0.2, d, 1e-9)

	name, _, err = voteM.Match([]float64{5, 5})
	require.NoError(t, err)
	assert.Equal(t, types.Unknown, name)
}

func TestMatcherCosine(t *testing.T) {
	m, err := New([]types.KnownIdentity{
		{Name: "Alice", Descriptor: []float64{1, 0}},
		{Name: "Bob", Descriptor: []float64{0, 1}},
	}, Options{Metric: Cosine, Threshold: 0.1})
	require.NoError(t, err)

	name, _, err := m.Match([]float64{3, 0.1})
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestMatcherClosest(t *testing.T) {
	m, err := New([]types.KnownIdentity{
		{Name: "Alice", Descriptor: []float64{0, 0}},
		{Name: "Bob", Descriptor: []float64{3, 4}},
		{Name: "Alice", Descriptor: []float64{0, 1}},
		{Name: "Carol", Descriptor: []float64{0, 2}},
	}, Options{})
	require.NoError(t, err)

	got, err := m.Closest([]float64{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alice", got[0].Name)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.Equal(t, "Carol", got[1].Name)

	all, err := m.Closest([]float64{0, 1}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = m.Closest([]float64{0}, 1)
	assert.ErrorIs(t, err, ErrDimension)
}
