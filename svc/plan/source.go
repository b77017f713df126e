package plan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source loads plan definitions keyed by plan id.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns a Source over a copy of plans. Panics without plans.
func NewInMemSource(plans ...Plan) Source {
	if len(plans) == 0 {
		panic("at least one plan is required")
	}
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p
	}
	return &inMemSource{plans: m}
}

func (s *inMemSource) Load(context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.plans), nil
}

type yamlFile struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	read func() ([]byte, error)
	name string
}

// NewYAMLSource reads plans from a YAML file on disk on every Load:
//
//	plans:
//	  - id: pro
//	    name: Pro
//	    price: {amount: 4000, currency: USD}
//	    downpayment: {amount: 4000, currency: USD}
//	    price_ref: price_pro_monthly
//	    public: true
func NewYAMLSource(path string) Source {
	return &yamlSource{name: path, read: func() ([]byte, error) { return os.ReadFile(path) }}
}

// NewYAMLSourceFS is NewYAMLSource over an fs.FS, typically an embed.FS.
func NewYAMLSourceFS(fsys fs.FS, name string) Source {
	return &yamlSource{name: name, read: func() ([]byte, error) { return fs.ReadFile(fsys, name) }}
}

func (s *yamlSource) Load(ctx context.Context) (map[string]Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.read()
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc yamlFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("%s: %w", s.name, err))
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if _, dup := plans[p.ID]; dup {
			return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidPlan, p.ID))
		}
		plans[p.ID] = p
	}
	return plans, nil
}
