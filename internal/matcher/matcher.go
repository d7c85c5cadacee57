package matcher

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/andresmejia3/rollcall/internal/types"
	"gonum.org/v1/gonum/floats"
)

// ErrDimension is returned when a descriptor does not have the snapshot's dimensionality.
var ErrDimension = errors.New("descriptor dimension mismatch")

// DefaultThreshold is the distance at or below which a candidate is accepted.
const DefaultThreshold = 0.40

type Metric int

const (
	Euclidean Metric = iota
	Cosine
)

func (m Metric) String() string {
	if m == Cosine {
		return "cosine"
	}
	return "euclidean"
}

// ParseMetric maps a config value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "euclidean":
		return Euclidean, nil
	case "cosine":
		return Cosine, nil
	}
	return Euclidean, fmt.Errorf("unknown metric %q", s)
}

type Strategy int

const (
	// Nearest picks the single closest descriptor.
	Nearest Strategy = iota
	// Vote weighs every descriptor within the threshold by inverse distance and
	// picks the name with the largest total.
	Vote
)

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "nearest":
		return Nearest, nil
	case "vote":
		return Vote, nil
	}
	return Nearest, fmt.Errorf("unknown match strategy %q", s)
}

// Distance computes the distance between two descriptors of equal length.
func Distance(m Metric, a, b []float64) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	if m == Cosine {
		return cosineDist(a, b), nil
	}
	return floats.Distance(a, b, 2), nil
}

// cosineDist returns 1 - cos(a, b). A zero vector is treated as orthogonal to everything.
func cosineDist(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1.0
	}
	return 1.0 - floats.Dot(a, b)/(na*nb)
}

// Match returns the name of the nearest known descriptor by Euclidean distance, or
// types.Unknown when nothing is within threshold. Ties go to the earliest entry in known.
func Match(descriptor []float64, known []types.KnownIdentity, threshold float64) (string, float64, error) {
	return nearest(Euclidean, descriptor, known, threshold)
}

func nearest(metric Metric, descriptor []float64, known []types.KnownIdentity, threshold float64) (string, float64, error) {
	if len(known) == 0 {
		return types.Unknown, math.Inf(1), nil
	}

	best, bestDist := -1, math.Inf(1)
	for i, k := range known {
		d, err := Distance(metric, descriptor, k.Descriptor)
		if err != nil {
			return "", 0, err
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	if bestDist > threshold {
		return types.Unknown, bestDist, nil
	}
	return known[best].Name, bestDist, nil
}

// Options configures a Matcher.
type Options struct {
	Metric    Metric
	Strategy  Strategy
	Threshold float64
}

// Matcher binds an immutable identity snapshot to a metric and strategy.
// It never mutates after construction and is safe for concurrent use.
type Matcher struct {
	known []types.KnownIdentity
	names []string
	dim   int
	opts  Options
}

// New validates the snapshot and returns a Matcher. Every descriptor must share the
// dimensionality of the first one.
func New(known []types.KnownIdentity, opts Options) (*Matcher, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	m := &Matcher{
		known: make([]types.KnownIdentity, len(known)),
		opts:  opts,
	}
	copy(m.known, known)

	seen := make(map[string]bool)
	for i, k := range m.known {
		if i == 0 {
			m.dim = len(k.Descriptor)
			if m.dim == 0 {
				return nil, fmt.Errorf("identity %q: %w: empty descriptor", k.Name, ErrDimension)
			}
		}
		if len(k.Descriptor) != m.dim {
			return nil, fmt.Errorf("identity %q: %w: want %d, got %d", k.Name, ErrDimension, m.dim, len(k.Descriptor))
		}
		if !seen[k.Name] {
			seen[k.Name] = true
			m.names = append(m.names, k.Name)
		}
	}
	return m, nil
}

// Dim is the descriptor length of the snapshot, or 0 when it is empty.
func (m *Matcher) Dim() int { return m.dim }

// Names returns the distinct identity names in insertion order.
func (m *Matcher) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Match classifies one descriptor against the snapshot.
func (m *Matcher) Match(descriptor []float64) (string, float64, error) {
	if m.opts.Strategy == Vote {
		return m.vote(descriptor)
	}
	return nearest(m.opts.Metric, descriptor, m.known, m.opts.Threshold)
}

func (m *Matcher) vote(descriptor []float64) (string, float64, error) {
	if len(m.known) == 0 {
		return types.Unknown, math.Inf(1), nil
	}

	type tally struct {
		weight  float64
		minDist float64
		order   int
	}
	tallies := make(map[string]*tally)
	bestAny := math.Inf(1)

	for _, k := range m.known {
		d, err := Distance(m.opts.Metric, descriptor, k.Descriptor)
		if err != nil {
			return "", 0, err
		}
		if d < bestAny {
			bestAny = d
		}
		if d > m.opts.Threshold {
			continue
		}
		t, ok := tallies[k.Name]
		if !ok {
			t = &tally{minDist: d, order: len(tallies)}
			tallies[k.Name] = t
		}
		t.weight += 1 / (d + 0.1)
		if d < t.minDist {
			t.minDist = d
		}
	}

	if len(tallies) == 0 {
		return types.Unknown, bestAny, nil
	}

	var winner string
	var w *tally
	for name, t := range tallies {
		if w == nil || t.weight > w.weight || (t.weight == w.weight && t.order < w.order) {
			winner, w = name, t
		}
	}
	return winner, w.minDist, nil
}

// Candidate is one person's best distance to a descriptor.
type Candidate struct {
	Name     string
	Distance float64
}

// Closest ranks up to n people by their nearest descriptor, ignoring the threshold.
// Equal distances keep insertion order.
func (m *Matcher) Closest(descriptor []float64, n int) ([]Candidate, error) {
	best := make(map[string]float64, len(m.names))
	for _, k := range m.known {
		d, err := Distance(m.opts.Metric, descriptor, k.Descriptor)
		if err != nil {
			return nil, err
		}
		if cur, ok := best[k.Name]; !ok || d < cur {
			best[k.Name] = d
		}
	}

	out := make([]Candidate, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, Candidate{Name: name, Distance: best[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
