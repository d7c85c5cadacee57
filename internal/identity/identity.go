package identity

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/dustin/go-humanize/english"
	"gopkg.in/yaml.v3"
)

var log = event.Log

// Source provides the known-identity snapshot for a session.
type Source interface {
	Known(ctx context.Context) ([]types.KnownIdentity, error)
}

// File reads identities from a YAML document of the form
//
//	identities:
//	  - name: Alice
//	    descriptor: [0.12, -0.03, ...]
type File struct {
	Path string
}

type fileDoc struct {
	Identities []fileEntry `yaml:"identities"`
}

type fileEntry struct {
	Name       string    `yaml:"name"`
	Descriptor []float64 `yaml:"descriptor"`
}

func (f *File) Known(ctx context.Context) ([]types.KnownIdentity, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identities: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse identities %s: %w", f.Path, err)
	}

	out := make([]types.KnownIdentity, 0, len(doc.Identities))
	for i, e := range doc.Identities {
		if e.Name == "" {
			return nil, fmt.Errorf("identity #%d in %s has no name", i+1, f.Path)
		}
		out = append(out, types.KnownIdentity{Name: e.Name, Descriptor: e.Descriptor})
	}
	return out, nil
}

// Load reads the snapshot from src and builds a matcher over it. An empty snapshot is
// allowed: every face will be Unknown.
func Load(ctx context.Context, src Source, opts matcher.Options) (*matcher.Matcher, error) {
	known, err := src.Known(ctx)
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(known, opts)
	if err != nil {
		return nil, err
	}

	if len(known) == 0 {
		log.Warn("identity: no known identities loaded, every face will be Unknown")
	} else {
		log.Infof("identity: loaded %s for %s",
			english.Plural(len(known), "descriptor", ""),
			english.Plural(len(m.Names()), "person", "people"))
	}
	return m, nil
}
