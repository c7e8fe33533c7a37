package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryHistoryLimit - сколько записей на задачу хранит MemoryHistory по умолчанию.
const DefaultMemoryHistoryLimit = 1000

// MemoryHistory - HistoryStore в памяти с ограничением числа записей на задачу.
type MemoryHistory struct {
	mu      sync.RWMutex
	limit   int
	seq     uint64
	records map[string][]memRecord
}

// memRecord хранит порядковый номер вставки: он различает записи
// с одинаковыми отметками времени.
type memRecord struct {
	ExecutionRecord
	seq uint64
}

// NewMemoryHistory создаёт хранилище. limit <= 0 означает DefaultMemoryHistoryLimit.
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = DefaultMemoryHistoryLimit
	}
	return &MemoryHistory{limit: limit, records: make(map[string][]memRecord)}
}

// Append реализует HistoryStore. При превышении лимита вытесняются самые старые записи.
func (h *MemoryHistory) Append(_ context.Context, rec ExecutionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	recs := append(h.records[rec.TaskID], memRecord{ExecutionRecord: rec, seq: h.seq})
	if over := len(recs) - h.limit; over > 0 {
		recs = append(recs[:0:0], recs[over:]...)
	}
	h.records[rec.TaskID] = recs
	return nil
}

// Query реализует HistoryStore. Записи с равными ScheduledAt и FinishedAt
// возвращаются в порядке, обратном порядку добавления.
func (h *MemoryHistory) Query(ctx context.Context, q HistoryQuery) ([]ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	var found []memRecord
	collect := func(recs []memRecord) {
		for _, r := range recs {
			if q.Match(r.ExecutionRecord) {
				found = append(found, r)
			}
		}
	}
	if q.TaskID != "" {
		collect(h.records[q.TaskID])
	} else {
		for _, recs := range h.records {
			collect(recs)
		}
	}
	h.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if newer(a.ExecutionRecord, b.ExecutionRecord) {
			return true
		}
		if newer(b.ExecutionRecord, a.ExecutionRecord) {
			return false
		}
		return a.seq > b.seq
	})
	if q.Limit > 0 && len(found) > q.Limit {
		found = found[:q.Limit]
	}

	out := make([]ExecutionRecord, len(found))
	for i, r := range found {
		out[i] = r.ExecutionRecord
	}
	return out, nil
}

// Prune реализует Pruner.
func (h *MemoryHistory) Prune(_ context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed int64
	for id, recs := range h.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.FinishedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(h.records, id)
			continue
		}
		h.records[id] = kept
	}
	return removed, nil
}

// Len возвращает общее число записей.
func (h *MemoryHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, recs := range h.records {
		n += len(recs)
	}
	return n
}
