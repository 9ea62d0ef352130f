// Package store keeps the event collection in memory, indexed by date key,
// and mirrors it to a JSON file on every change.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
)

const DefaultMaxPerDay = 200

var (
	ErrNotFound    = errors.New("event not found")
	ErrDuplicateID = errors.New("duplicate event id")
	ErrDayFull     = errors.New("too many events for one day")
)

// Options configures a Store.
type Options struct {
	// Path is the JSON file backing the store. Empty keeps the store in
	// memory only.
	Path string

	// MaxPerDay bounds how many events a single date may hold, which in
	// turn bounds layout work per request. Zero means DefaultMaxPerDay.
	MaxPerDay int
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	events map[string]model.Event
	byDate map[string][]string // date key -> IDs in insertion order

	path      string
	maxPerDay int
}

func New(opts Options) *Store {
	if opts.MaxPerDay <= 0 {
		opts.MaxPerDay = DefaultMaxPerDay
	}
	return &Store{
		events:    make(map[string]model.Event),
		byDate:    make(map[string][]string),
		path:      opts.Path,
		maxPerDay: opts.MaxPerDay,
	}
}

// Open creates a Store and loads opts.Path if it exists. Invalid records in
// the file are skipped and logged.
func Open(opts Options) (*Store, error) {
	s := New(opts)
	if s.path == "" {
		return s, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}

	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", s.path, err)
	}

	skipped := 0
	for _, ev := range events {
		if err := s.insert(ev); err != nil {
			appLog.Error("store: skipping stored event", err, "id", ev.ID, "date", ev.Date)
			skipped++
		}
	}
	appLog.Info("store loaded", "path", s.path, "events", len(s.events), "skipped", skipped)
	return s, nil
}

// Add validates ev, assigns an ID when it has none and persists the store.
// A persistence error is returned but the event stays in memory.
func (s *Store) Add(ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insert(ev); err != nil {
		return model.Event{}, err
	}
	return ev, s.persistLocked()
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.remove(id)
	return s.persistLocked()
}

func (s *Store) Get(id string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev, nil
}

// ForDate returns a fresh slice of the events stored under key, ordered by
// start time.
func (s *Store) ForDate(key string) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDate[key]
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.events[id])
	}
	sortByTime(out)
	return out
}

// All returns every event ordered by date, then start time.
func (s *Store) All() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLocked()
}

// Dates returns the sorted date keys that hold at least one event.
func (s *Store) Dates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.byDate))
	for k := range s.byDate {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of events stored under key.
func (s *Store) Count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDate[key])
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ReplaceSource swaps every event tagged with source for events, which are
// tagged with source as well. Invalid events are skipped and reported in the
// joined error; the valid ones are still stored.
func (s *Store) ReplaceSource(source string, events []model.Event) (int, error) {
	if source == "" {
		return 0, errors.New("store: empty source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ev := range s.events {
		if ev.Source == source {
			s.remove(id)
		}
	}

	var errs []error
	added := 0
	for _, ev := range events {
		ev.Source = source
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if err := s.insert(ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.ID, err))
			continue
		}
		added++
	}

	if err := s.persistLocked(); err != nil {
		errs = append(errs, err)
	}
	return added, errors.Join(errs...)
}

// insert must be called with mu held (or before the store is shared).
func (s *Store) insert(ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: empty id", model.ErrInvalidEvent)
	}
	if _, exists := s.events[ev.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
	}
	if len(s.byDate[ev.Date]) >= s.maxPerDay {
		return fmt.Errorf("%w: %s already has %d events", ErrDayFull, ev.Date, s.maxPerDay)
	}
	s.events[ev.ID] = ev
	s.byDate[ev.Date] = append(s.byDate[ev.Date], ev.ID)
	return nil
}

func (s *Store) remove(id string) {
	ev := s.events[id]
	delete(s.events, id)

	ids := s.byDate[ev.Date]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byDate, ev.Date)
		return
	}
	s.byDate[ev.Date] = ids
}

func (s *Store) allLocked() []model.Event {
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sortByTime(out)
	return out
}

// persistLocked writes the store atomically (temp file + rename, 0600).
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.allLocked(), "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dayplan-events-*.tmp")
	if err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: persist: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: persist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}
	return nil
}

// sortByTime orders by date, start, end, then ID so output is stable
// regardless of map iteration order.
func sortByTime(events []model.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.EndTime != b.EndTime {
			return a.EndTime < b.EndTime
		}
		return a.ID < b.ID
	})
}
