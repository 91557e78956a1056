package core

import "time"

// Observation represents one complete act of perception — a document scan or
// a validated answer — binding the produced engrams to their summarizing
// meta.
type Observation struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	TrackingID string    `json:"tracking_id,omitempty"`
	Meta       *Meta     `json:"meta"`
	EngramList []*Engram `json:"engram_list"`
	CreatedAt  time.Time `json:"created_at"`
}
