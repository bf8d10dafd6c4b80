package stub

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrThingNotFound = errors.New("stub: thing not found")

type Thing struct {
	ID         string
	Name       string
	Confidence decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ThingPatch struct {
	Name       *string
	Confidence *decimal.Decimal
}

// Store keeps things in memory, ordered by creation time.
type Store struct {
	mu     sync.RWMutex
	things map[string]Thing
	order  []string
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		mu:     sync.RWMutex{},
		things: make(map[string]Thing),
		order:  nil,
		now:    time.Now,
	}
}

func (s *Store) Create(name string, confidence decimal.Decimal) Thing {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	thing := Thing{
		ID:         uuid.NewString(),
		Name:       name,
		Confidence: confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.things[thing.ID] = thing
	s.order = append(s.order, thing.ID)

	return thing
}

func (s *Store) Get(id string) (Thing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thing, ok := s.things[id]
	if !ok {
		return Thing{}, ErrThingNotFound
	}

	return thing, nil
}

// List returns one page of things whose name contains query, and the total
// number of matches.
func (s *Store) List(query string, offset, limit int) ([]Thing, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	matches := make([]Thing, 0, len(s.order))

	for _, id := range s.order {
		thing := s.things[id]
		if query == "" || strings.Contains(strings.ToLower(thing.Name), query) {
			matches = append(matches, thing)
		}
	}

	total := len(matches)
	if offset < 0 || limit <= 0 || offset >= total {
		return []Thing{}, total
	}

	end := min(offset+limit, total)

	return matches[offset:end], total
}

// All returns every thing in creation order as one consistent snapshot.
func (s *Store) All() []Thing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	things := make([]Thing, 0, len(s.order))
	for _, id := range s.order {
		things = append(things, s.things[id])
	}

	return things
}

func (s *Store) Update(id string, patch ThingPatch) (Thing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thing, ok := s.things[id]
	if !ok {
		return Thing{}, ErrThingNotFound
	}

	if patch.Name != nil {
		thing.Name = *patch.Name
	}

	if patch.Confidence != nil {
		thing.Confidence = *patch.Confidence
	}

	thing.UpdatedAt = s.now().UTC()
	s.things[id] = thing

	return thing, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.things[id]; !ok {
		return ErrThingNotFound
	}

	delete(s.things, id)
	s.order = slices.DeleteFunc(s.order, func(existing string) bool {
		return existing == id
	})

	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.things)
}
