package model

import (
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HistoryEntity names what a StateHistoryEntry is about.
type HistoryEntity string

const (
	EntityChargePoint HistoryEntity = "chargePoint"
	EntityConnector   HistoryEntity = "connector"
)

// HistorySource names what triggered a recorded transition.
type HistorySource string

const (
	SourceUser     HistorySource = "user"
	SourceRemote   HistorySource = "remote"
	SourceScenario HistorySource = "scenario"
	SourceSystem   HistorySource = "system"
)

// ValidationLevel grades how a transition was judged.
type ValidationLevel string

const (
	ValidationOK      ValidationLevel = "OK"
	ValidationWarning ValidationLevel = "WARNING"
	ValidationError   ValidationLevel = "ERROR"
)

// StateHistoryEntry is one recorded state transition.
type StateHistoryEntry struct {
	SequenceID     int64
	Timestamp      time.Time
	Entity         HistoryEntity
	EntityID       int
	TransitionType string
	FromState      string
	ToState        string
	Source         HistorySource
	Success        bool
	Level          ValidationLevel
	ErrorMessage   string
}

// HistoryFilter narrows GetHistory results; zero-value fields match
// everything.
type HistoryFilter struct {
	Entity         HistoryEntity
	EntityID       *int
	Since          *time.Time
	Until          *time.Time
	TransitionType string
	Limit          int
}

// HistoryStatistics summarizes a History's contents.
type HistoryStatistics struct {
	Total                 int
	ByEntity              map[HistoryEntity]int
	ByTransitionType      map[string]int
	ErrorCount             int
	WarningCount           int
	TransitionsPerMinute  float64
}

// History is a bounded FIFO log of state transitions, single-writer
// per charge point with concurrent readers.
type History struct {
	mu       sync.RWMutex
	entries  []StateHistoryEntry
	maxSize  int
	nextSeq  int64
}

const defaultHistoryMax = 1000

// NewHistory builds a History bounded to maxSize entries; maxSize<=0
// uses the default of 1000.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = defaultHistoryMax
	}
	return &History{maxSize: maxSize}
}

// Record appends one entry, assigning it the next sequence id and
// evicting the oldest entry if the bound is exceeded.
func (h *History) Record(e StateHistoryEntry) StateHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	e.SequenceID = h.nextSeq
	h.entries = append(h.entries, e)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
	return e
}

// GetHistory returns entries matching filter, oldest first, optionally
// truncated to filter.Limit trailing matches.
func (h *History) GetHistory(filter HistoryFilter) []StateHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []StateHistoryEntry
	for _, e := range h.entries {
		if filter.Entity != "" && e.Entity != filter.Entity {
			continue
		}
		if filter.EntityID != nil && e.EntityID != *filter.EntityID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.Timestamp.After(*filter.Until) {
			continue
		}
		if filter.TransitionType != "" && e.TransitionType != filter.TransitionType {
			continue
		}
		out = append(out, e)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Statistics computes aggregate counts over the full (unfiltered) log.
func (h *History) Statistics() HistoryStatistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HistoryStatistics{
		ByEntity:         make(map[HistoryEntity]int),
		ByTransitionType: make(map[string]int),
	}
	stats.Total = len(h.entries)
	if stats.Total == 0 {
		return stats
	}

	for _, e := range h.entries {
		stats.ByEntity[e.Entity]++
		stats.ByTransitionType[e.TransitionType]++
		switch e.Level {
		case ValidationError:
			stats.ErrorCount++
		case ValidationWarning:
			stats.WarningCount++
		}
	}

	first := h.entries[0].Timestamp
	last := h.entries[len(h.entries)-1].Timestamp
	minutes := last.Sub(first).Minutes()
	if minutes > 0 {
		stats.TransitionsPerMinute = float64(stats.Total) / minutes
	}
	return stats
}

// Export serializes the full log as "json" or "csv".
func (h *History) Export(format string) ([]byte, error) {
	h.mu.RLock()
	entries := make([]StateHistoryEntry, len(h.entries))
	copy(entries, h.entries)
	h.mu.RUnlock()

	switch strings.ToLower(format) {
	case "json":
		return json.Marshal(entries)
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		header := []string{"sequenceId", "timestamp", "entity", "entityId", "transitionType",
			"fromState", "toState", "source", "success", "level", "errorMessage"}
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for _, e := range entries {
			row := []string{
				strconv.FormatInt(e.SequenceID, 10),
				e.Timestamp.UTC().Format(time.RFC3339),
				string(e.Entity),
				strconv.Itoa(e.EntityID),
				e.TransitionType,
				e.FromState,
				e.ToState,
				string(e.Source),
				strconv.FormatBool(e.Success),
				string(e.Level),
				e.ErrorMessage,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	default:
		return nil, strconv.ErrSyntax
	}
}

// Cleanup trims entries older than olderThan, if non-nil, and then
// re-applies the max-size bound regardless.
func (h *History) Cleanup(olderThan *time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	if olderThan != nil {
		kept := h.entries[:0]
		for _, e := range h.entries {
			if e.Timestamp.Before(*olderThan) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		h.entries = kept
	}
	if len(h.entries) > h.maxSize {
		removed += len(h.entries) - h.maxSize
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
	return removed
}

// Len reports the current entry count.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
