package entitydata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

// Static is an in-memory Provider. It serves local runs without an upstream
// database and stands in for one in tests.
type Static struct {
	mu       sync.RWMutex
	entities map[model.EntityKind]map[model.ID]json.RawMessage
	fail     error
}

func NewStatic() *Static {
	return &Static{entities: make(map[model.EntityKind]map[model.ID]json.RawMessage)}
}

// Put stores raw under the id found in the payload.
func (s *Static) Put(kind model.EntityKind, raw json.RawMessage) error {
	id, err := model.EntityID(kind, raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[kind] == nil {
		s.entities[kind] = make(map[model.ID]json.RawMessage)
	}
	s.entities[kind][id] = append(json.RawMessage(nil), raw...)
	return nil
}

// MustPut marshals v and stores it, panicking on error. For fixtures.
func (s *Static) MustPut(kind model.EntityKind, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	if err := s.Put(kind, raw); err != nil {
		panic(err)
	}
}

func (s *Static) Remove(kind model.EntityKind, id model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities[kind], id)
}

// FailWith makes every call return err until cleared with nil.
func (s *Static) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *Static) Get(ctx context.Context, kind model.EntityKind, id model.ID) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}
	raw, ok := s.entities[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (s *Static) ListByForeignKey(ctx context.Context, kind model.EntityKind, field string, id model.ID) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}
	ids := make([]model.ID, 0, len(s.entities[kind]))
	for entityID := range s.entities[kind] {
		ids = append(ids, entityID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	match := filter.Eq(field, id.String())
	var out []json.RawMessage
	for _, entityID := range ids {
		raw := s.entities[kind][entityID]
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, entityID, err)
		}
		if filter.Match(match, fields) {
			out = append(out, raw)
		}
	}
	return out, nil
}
