package main

import (
	"database/sql"
	"log"
	"sync"
	"time"
)

// Event types for analytics tracking
const (
	EvtRunStart    = "run_start"
	EvtResize      = "resize"
	EvtTickSummary = "tick_summary"
	EvtArenaOpen   = "arena_open"
	EvtArenaClose  = "arena_close"
)

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	ArenaID   string
	RunID     string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// Analytics handles event tracking with batched background writes.
// A nil *Analytics accepts and discards everything.
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	wg     sync.WaitGroup

	// Live metrics
	mu      sync.RWMutex
	viewers int
	arenas  int
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, 1024),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking)
func (a *Analytics) Track(evtType, arenaID, runID, data string) {
	if a == nil {
		return
	}
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		ArenaID:   arenaID,
		RunID:     runID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full, drop event rather than blocking the tick loop
	}
}

// SetViewers updates live viewer count metric
func (a *Analytics) SetViewers(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.viewers = n
	a.mu.Unlock()
}

// SetArenas updates live arena count metric
func (a *Analytics) SetArenas(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.arenas = n
	a.mu.Unlock()
}

// GetLiveMetrics returns current viewers and arenas
func (a *Analytics) GetLiveMetrics() (int, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.viewers, a.arenas
}

// Stop gracefully shuts down the analytics writer
func (a *Analytics) Stop() {
	if a == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches and writes events to DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			// Flush immediately if batch is large
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain whatever is already queued
		drain:
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				a.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch of events to the database. run_start events also
// create the runs row.
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, arena_id, run_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		aid := sql.NullString{String: evt.ArenaID, Valid: evt.ArenaID != ""}
		rid := sql.NullString{String: evt.RunID, Valid: evt.RunID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		ts := evt.Timestamp.Format(time.RFC3339)
		if _, err := stmt.Exec(evt.Type, aid, rid, data, ts); err != nil {
			log.Printf("analytics: insert error: %v", err)
		}
		if evt.Type == EvtRunStart && evt.RunID != "" {
			_, err := tx.Exec(`INSERT OR IGNORE INTO runs (id, arena_id, params, created_at) VALUES (?, ?, ?, ?)`,
				evt.RunID, evt.ArenaID, evt.Data, ts)
			if err != nil {
				log.Printf("analytics: run insert error: %v", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit error: %v", err)
	}
}

// --- Query methods for the API ---

// RunRow is one accepted generate request
type RunRow struct {
	ID        string `json:"id"`
	ArenaID   string `json:"arena"`
	Params    string `json:"params"`
	CreatedAt string `json:"created_at"`
}

// RecentRuns returns the newest runs first
func (a *Analytics) RecentRuns(limit int) ([]RunRow, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT id, arena_id, params, created_at FROM runs
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.ArenaID, &r.Params, &r.CreatedAt); err != nil {
			continue
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// EventCounts returns counts of each event type for the last N days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			continue
		}
		result[evtType] = count
	}
	return result, rows.Err()
}
