package store

import "time"

// --- Session Index (sessions/index.json) ---

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionReset  SessionStatus = "reset"
)

type SessionMeta struct {
	ID           string        `json:"id" yaml:"id"`
	Title        string        `json:"title" yaml:"title"`
	Status       SessionStatus `json:"status" yaml:"status"`
	MessageCount int           `json:"message_count" yaml:"message_count"`
	LastOrdinal  int           `json:"last_ordinal" yaml:"last_ordinal"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" yaml:"updated_at"`
}

type SessionIndex struct {
	Sessions map[string]SessionMeta `json:"sessions"`
}

// --- Transcript (sessions/<id>.jsonl) ---
//
// Each line is one contract.Message encoded as JSON. Rotated segments are kept
// beside the live file as <id>.jsonl.<stamp>.bak and read back in stamp order.

const titleMaxRunes = 60
