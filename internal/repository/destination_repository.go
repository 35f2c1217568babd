package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// InMemoryDestinationRepository keeps destination rows edited through the
// control surface. It serves them back as a list source, so a reload keeps
// every destination added at runtime.
type InMemoryDestinationRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.DestinationRow
	seq  map[string]int
	next int
}

// NewInMemoryDestinationRepository creates a new in-memory destination repository
func NewInMemoryDestinationRepository() *InMemoryDestinationRepository {
	return &InMemoryDestinationRepository{
		rows: make(map[string]domain.DestinationRow),
		seq:  make(map[string]int),
	}
}

func rowKey(group int, uri string) string {
	uri = strings.TrimSpace(uri)
	lower := strings.ToLower(uri)
	if !strings.HasPrefix(lower, "sip:") && !strings.HasPrefix(lower, "sips:") {
		uri = "sip:" + uri
	}
	return fmt.Sprintf("%d|%s", group, strings.ToLower(uri))
}

// GetAll returns all rows in the order they were first saved
func (r *InMemoryDestinationRepository) GetAll() []domain.DestinationRow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.rows))
	for k := range r.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return r.seq[keys[i]] < r.seq[keys[j]] })

	rows := make([]domain.DestinationRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, r.rows[k])
	}
	return rows
}

// GetByGroup returns the rows of one destination set
func (r *InMemoryDestinationRepository) GetByGroup(group int) []domain.DestinationRow {
	var out []domain.DestinationRow
	for _, row := range r.GetAll() {
		if row.Group == group {
			out = append(out, row)
		}
	}
	return out
}

// Save stores a row, replacing the row with the same group and uri
func (r *InMemoryDestinationRepository) Save(row domain.DestinationRow) error {
	if strings.TrimSpace(row.URI) == "" {
		return fmt.Errorf("destination uri cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := rowKey(row.Group, row.URI)
	if _, exists := r.seq[key]; !exists {
		r.next++
		r.seq[key] = r.next
	}
	r.rows[key] = row
	return nil
}

// SaveAll stores multiple rows in a single operation
func (r *InMemoryDestinationRepository) SaveAll(rows []domain.DestinationRow) error {
	for i, row := range rows {
		if strings.TrimSpace(row.URI) == "" {
			return fmt.Errorf("row at index %d has an empty uri", i)
		}
	}
	for _, row := range rows {
		if err := r.Save(row); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the row uri of group
func (r *InMemoryDestinationRepository) Delete(group int, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rowKey(group, uri)
	if _, exists := r.rows[key]; !exists {
		return fmt.Errorf("destination %s of set %d not found", uri, group)
	}
	delete(r.rows, key)
	delete(r.seq, key)
	return nil
}

// Count returns the total number of rows
func (r *InMemoryDestinationRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// Clear removes all rows
func (r *InMemoryDestinationRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]domain.DestinationRow)
	r.seq = make(map[string]int)
}

// LoadDestinations returns every stored row
func (r *InMemoryDestinationRepository) LoadDestinations(context.Context) ([]domain.DestinationRow, error) {
	return r.GetAll(), nil
}
