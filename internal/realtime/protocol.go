package realtime

import (
	"encoding/json"
	"time"

	"github.com/joakey/joakey/backend/internal/store"
)

// Phoenix channel events used by Supabase Realtime.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"

	phoenixTopic = "phoenix"
)

// frame is a Phoenix v1 JSON message.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinConfig struct {
	Broadcast       map[string]bool   `json:"broadcast"`
	Presence        map[string]string `json:"presence"`
	PostgresChanges []changeFilter    `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

func newJoinPayload(table, filter, accessToken string) joinPayload {
	return joinPayload{
		Config: joinConfig{
			Broadcast: map[string]bool{"self": false},
			Presence:  map[string]string{"key": ""},
			PostgresChanges: []changeFilter{{
				Event:  "*",
				Schema: "public",
				Table:  table,
				Filter: filter,
			}},
		},
		AccessToken: accessToken,
	}
}

type changePayload struct {
	Data struct {
		Type            string          `json:"type"`
		Table           string          `json:"table"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp string          `json:"commit_timestamp"`
	} `json:"data"`
}

// parseChange converts a postgres_changes payload into a ChangeEvent.
func parseChange(raw json.RawMessage) (store.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.ChangeEvent{}, err
	}
	evt := store.ChangeEvent{
		Type:      store.EventType(p.Data.Type),
		Table:     p.Data.Table,
		Record:    nonEmpty(p.Data.Record),
		OldRecord: nonEmpty(p.Data.OldRecord),
	}
	if ts, err := time.Parse(time.RFC3339Nano, p.Data.CommitTimestamp); err == nil {
		evt.CommitTimestamp = ts
	}
	return evt, nil
}

// nonEmpty drops null and {} records so consumers can test len().
func nonEmpty(raw json.RawMessage) json.RawMessage {
	switch string(raw) {
	case "", "null", "{}":
		return nil
	}
	return raw
}
