package graph

import (
	"context"
	"errors"
	"strings"
	"sync"

	"horse.fit/storyline/internal/db"
)

type storyEntityLink struct {
	Role    string
	Context string
}

type connectionKey struct {
	Source       int64
	Target       int64
	Relationship string
}

type memoryStore struct {
	mu          sync.Mutex
	nextID      int64
	entities    map[Key]db.EntityRecord
	links       map[[2]int64]storyEntityLink
	connections map[connectionKey]db.ConnectionUpsert
	connIDs     map[connectionKey]int64

	insertCalls   int
	stealInsert   bool
	findErr       error
	upsertConnErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entities:    map[Key]db.EntityRecord{},
		links:       map[[2]int64]storyEntityLink{},
		connections: map[connectionKey]db.ConnectionUpsert{},
		connIDs:     map[connectionKey]int64{},
	}
}

func (s *memoryStore) seed(name, entityType string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(name, entityType)
}

func (s *memoryStore) insertLocked(name, entityType string) int64 {
	s.nextID++
	s.entities[KeyOf(name, entityType)] = db.EntityRecord{EntityID: s.nextID, Name: name, EntityType: entityType}
	return s.nextID
}

func (s *memoryStore) FindEntityByKey(_ context.Context, name, entityType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return 0, s.findErr
	}
	if row, ok := s.entities[KeyOf(name, entityType)]; ok {
		return row.EntityID, nil
	}
	return 0, db.ErrNoRows
}

func (s *memoryStore) FindEntitiesByName(_ context.Context, name string) ([]db.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []db.EntityRecord
	for key, row := range s.entities {
		if key.Name == strings.ToLower(strings.TrimSpace(name)) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memoryStore) InsertEntity(_ context.Context, name, entityType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.stealInsert {
		// Simulate a concurrent writer winning the unique key.
		s.insertLocked(name, entityType)
		return 0, db.ErrNoRows
	}
	if _, ok := s.entities[KeyOf(name, entityType)]; ok {
		return 0, db.ErrNoRows
	}
	return s.insertLocked(name, entityType), nil
}

func (s *memoryStore) UpsertStoryEntity(_ context.Context, storyID, entityID int64, role, context string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[[2]int64{storyID, entityID}] = storyEntityLink{Role: role, Context: context}
	return nil
}

func (s *memoryStore) UpsertEntityConnection(_ context.Context, conn db.ConnectionUpsert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertConnErr != nil {
		return 0, s.upsertConnErr
	}
	key := connectionKey{Source: conn.SourceEntityID, Target: conn.TargetEntityID, Relationship: conn.RelationshipType}
	id, ok := s.connIDs[key]
	if !ok {
		id = int64(len(s.connIDs) + 1)
		s.connIDs[key] = id
	}
	s.connections[key] = conn
	return id, nil
}

func (s *memoryStore) entityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

var errStoreDown = errors.New("store down")
