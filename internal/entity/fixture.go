package entity

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/talonops/talon/model"
)

// Fixtures is a canned data set for every entity kind, used for demos and
// tests in place of the REST API.
type Fixtures struct {
	Activities       []model.Activity       `yaml:"attivita"`
	CivilEntities    []model.CivilEntity    `yaml:"enti_civili"`
	MilitaryEntities []model.MilitaryEntity `yaml:"enti_militari"`
	Operations       []model.Operation      `yaml:"operazioni"`
}

// LoadFixtures reads a fixture set from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("entity: reading fixtures %s: %w", path, err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("entity: parsing fixtures %s: %w", path, err)
	}
	return &f, nil
}

// FixtureSource is an in-memory Source. Writes change the in-memory copy
// only.
type FixtureSource[T model.Record] struct {
	mu      sync.RWMutex
	records []T
	withID  func(T, string) T
}

// NewFixtureSource creates a source over records. withID returns a copy of
// a record with its id set, used by Create.
func NewFixtureSource[T model.Record](records []T, withID func(T, string) T) *FixtureSource[T] {
	return &FixtureSource[T]{records: slices.Clone(records), withID: withID}
}

func (s *FixtureSource[T]) List(context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records), nil
}

func (s *FixtureSource[T]) Search(_ context.Context, query string) ([]T, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0)
	for _, r := range s.records {
		if strings.Contains(r.SearchText(), q) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FixtureSource[T]) Create(_ context.Context, rec T) (T, error) {
	if rec.RecordID() == "" {
		rec = s.withID(rec, uuid.NewString())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *FixtureSource[T]) Update(_ context.Context, id string, rec T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec = s.withID(rec, id)
	s.records[i] = rec
	return rec, nil
}

func (s *FixtureSource[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.records = slices.Delete(s.records, i, i+1)
	return nil
}

func (s *FixtureSource[T]) index(id string) int {
	return slices.IndexFunc(s.records, func(r T) bool { return r.RecordID() == id })
}

// Fixture sources per kind.

func ActivityFixtures(f *Fixtures) *FixtureSource[model.Activity] {
	return NewFixtureSource(f.Activities, func(a model.Activity, id string) model.Activity {
		a.ID = id
		return a
	})
}

func CivilEntityFixtures(f *Fixtures) *FixtureSource[model.CivilEntity] {
	return NewFixtureSource(f.CivilEntities, func(c model.CivilEntity, id string) model.CivilEntity {
		c.ID = id
		return c
	})
}

func MilitaryEntityFixtures(f *Fixtures) *FixtureSource[model.MilitaryEntity] {
	return NewFixtureSource(f.MilitaryEntities, func(m model.MilitaryEntity, id string) model.MilitaryEntity {
		m.ID = id
		return m
	})
}

func OperationFixtures(f *Fixtures) *FixtureSource[model.Operation] {
	return NewFixtureSource(f.Operations, func(o model.Operation, id string) model.Operation {
		o.ID = id
		return o
	})
}
