package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/entry"
)

type entryRepository struct {
	db *DB
}

var _ entry.Repository = (*entryRepository)(nil) // interface compliance check

func NewEntryRepository(db *DB) entry.Repository {
	return &entryRepository{db: db}
}

func copyEntry(e entry.Entry) entry.Entry {
	data := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	e.Data = data
	return e
}

func (repo *entryRepository) UpsertEntries(_ context.Context, entries []entry.Entry, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var created int
	for _, ent := range entries {
		e := copyEntry(ent)
		key := entryKey{e.Institution, e.EventNumber}
		if orig, ok := repo.db.entries[key]; ok {
			e.ID = orig.ID
			e.CreatedAt = orig.CreatedAt
			if e.Selected == "" {
				e.Selected = orig.Selected
			}
		} else {
			repo.db.entrySeq++
			e.ID = repo.db.entrySeq
			if e.Selected == "" {
				e.Selected = entry.NotSelected
			}
			created++
		}
		e.Data[entry.KeySelected] = e.Selected
		repo.db.entries[key] = &e
	}
	return created, nil
}

func matchEntry(e *entry.Entry, filter entry.QueryFilter) bool {
	if e.Institution != filter.Institution {
		return false
	}
	switch filter.Selection {
	case entry.SelectionSelected:
		if !e.IsSelected() {
			return false
		}
	case entry.SelectionNotSelected:
		if e.IsSelected() {
			return false
		}
	}
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(e.EventNumber), s) && !strings.Contains(strings.ToLower(e.Narrative()), s) {
			return false
		}
	}
	if len(filter.EventNumbers) > 0 {
		var found bool
		for _, num := range filter.EventNumbers {
			if e.EventNumber == num {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (repo *entryRepository) QueryEntries(_ context.Context, filter entry.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]entry.Entry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	entries := make([]entry.Entry, 0)
	for _, e := range repo.db.entries {
		if matchEntry(e, filter) {
			entries = append(entries, copyEntry(*e))
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "id", Ascending: true}}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "id":
				cmp = compareInts(entries[i].ID, entries[j].ID)
			case "event_number":
				cmp = strings.Compare(entries[i].EventNumber, entries[j].EventNumber)
			case "selected":
				cmp = strings.Compare(entries[i].Selected, entries[j].Selected)
			case "created_at":
				cmp = compareTimes(entries[i].CreatedAt, entries[j].CreatedAt)
			case "updated_at":
				cmp = compareTimes(entries[i].UpdatedAt, entries[j].UpdatedAt)
			}
			if cmp != 0 {
				return (cmp < 0) == ord.Ascending
			}
		}
		return false
	})
	return entries, nil
}

func (repo *entryRepository) GetEntry(_ context.Context, institution, eventNumber string, _ ...core.DBExecutor) (entry.Entry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.entries[entryKey{institution, eventNumber}]; ok {
		return copyEntry(*e), nil
	}
	return entry.Entry{}, entry.ErrNotFound
}

func (repo *entryRepository) SetSelection(_ context.Context, institution string, eventNumbers []string, selected string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	filter := entry.QueryFilter{Institution: institution, EventNumbers: eventNumbers}
	var cnt int
	for _, e := range repo.db.entries {
		if matchEntry(e, filter) {
			e.Selected = selected
			e.Data[entry.KeySelected] = selected
			e.UpdatedAt = now
			cnt++
		}
	}
	return cnt, nil
}

func (repo *entryRepository) CountEntries(_ context.Context, institution string, _ ...core.DBExecutor) (entry.Counts, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var counts entry.Counts
	for _, e := range repo.db.entries {
		if e.Institution == institution {
			counts.Total++
			if e.IsSelected() {
				counts.Selected++
			}
		}
	}
	return counts, nil
}

func (repo *entryRepository) DeleteEntries(_ context.Context, institution string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for key := range repo.db.entries {
		if key.institution == institution {
			delete(repo.db.entries, key)
			cnt++
		}
	}
	return cnt, nil
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
