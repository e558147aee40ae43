package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType is the kind of row change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventResync means changes may have been missed; consumers must re-fetch.
	EventResync EventType = "RESYNC"
)

// ChangeEvent is a row-level change delivered by a ChangeFeed.
type ChangeEvent struct {
	Type            EventType       `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Handler receives change events. Calls for one subscription never overlap.
type Handler func(ChangeEvent)

// Subscription is an active change feed registration.
type Subscription interface {
	Close() error
}

// ChangeFeed pushes row-level changes for a table, scoped by a filter
// expression of the form "column=eq.value" (empty matches every row).
type ChangeFeed interface {
	Subscribe(ctx context.Context, table, filter string, handler Handler) (Subscription, error)
}

// Publisher accepts change events produced by local writes.
type Publisher interface {
	Publish(evt ChangeEvent)
}

// Filter is a parsed "column=eq.value" expression.
type Filter struct {
	Column string
	Value  string
}

// EqFilter builds the filter expression for column = value.
func EqFilter(column, value string) string {
	return column + "=eq." + value
}

// ParseFilter parses a filter expression. The empty string yields a zero Filter.
func ParseFilter(expr string) (Filter, error) {
	if expr == "" {
		return Filter{}, nil
	}
	column, rest, ok := strings.Cut(expr, "=")
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("invalid filter %q", expr)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("unsupported filter operator in %q", expr)
	}
	return Filter{Column: column, Value: value}, nil
}

// Matches reports whether a JSON record satisfies the filter.
func (f Filter) Matches(record json.RawMessage) bool {
	if f.Column == "" {
		return true
	}
	if len(record) == 0 {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(record, &fields); err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == f.Value
}
