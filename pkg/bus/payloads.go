package bus

import (
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/metrics"
)

// RetrieveCompletePayload is published on retrieve_complete when the
// retrieve pipeline has resolved a prompt to candidate engram ids.
type RetrieveCompletePayload struct {
	AskID          string              `json:"ask_id"`
	TrackingID     string              `json:"tracking_id"`
	Prompt         core.Prompt         `json:"prompt"`
	Analysis       core.PromptAnalysis `json:"analysis"`
	RetrieveResult core.RetrieveResult `json:"retrieve_result"`
}

// MainPromptCompletePayload is published on main_prompt_complete when the
// response pipeline has finished streaming an answer.
type MainPromptCompletePayload struct {
	Response core.Response `json:"response"`
	Prompt   core.Prompt   `json:"prompt"`
}

// ObservationCompletePayload is published on observation_complete by sense
// (document scans) and codify (validated answers). RepoID scopes the
// resulting vector inserts; empty means the reserved null repo.
type ObservationCompletePayload struct {
	Observation core.Observation `json:"observation"`
	RepoID      string           `json:"repo_id,omitempty"`
}

// MetaCompletePayload is published on meta_complete once a meta summary is
// embedded.
type MetaCompletePayload struct {
	Meta       core.Meta `json:"meta"`
	TrackingID string    `json:"tracking_id,omitempty"`
	RepoID     string    `json:"repo_id,omitempty"`
}

// EngramCompletePayload is published on engram_complete once an engram's
// indices are attached and embedded.
type EngramCompletePayload struct {
	Engram     core.Engram `json:"engram"`
	TrackingID string      `json:"tracking_id,omitempty"`
	RepoID     string      `json:"repo_id,omitempty"`
}

// IndexCompletePayload is published on index_complete, one per engram,
// carrying the embedded indices for vector insertion. IndexIDArray holds the
// progress-tree child id of each index, parallel to Indices.
type IndexCompletePayload struct {
	EngramID     string       `json:"engram_id"`
	EngramType   string       `json:"engram_type,omitempty"`
	Location     string       `json:"location,omitempty"`
	TrackingID   string       `json:"tracking_id,omitempty"`
	RepoID       string       `json:"repo_id,omitempty"`
	IndexIDArray []string     `json:"index_id_array"`
	Indices      []core.Index `json:"index_list"`
}

// NodeCreatedPayload is the common shape of the progress-tree creation
// events (lesson_created, prompt_created, document_created,
// observation_created). A node with no parent becomes a progress root.
type NodeCreatedPayload struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id,omitempty"`
	TrackingID string `json:"tracking_id"`
	TargetID   string `json:"target_id,omitempty"`
}

// EngramsCreatedPayload is published on engrams_created, attaching a batch
// of engrams beneath their observation in the progress tree.
type EngramsCreatedPayload struct {
	ParentID      string   `json:"parent_id"`
	TrackingID    string   `json:"tracking_id"`
	EngramIDArray []string `json:"engram_id_array"`
}

// IndexBatchPayload is the shape shared by indices_created and
// indices_inserted: a batch of index ids beneath their parent engram.
type IndexBatchPayload struct {
	ParentID     string   `json:"parent_id"`
	TrackingID   string   `json:"tracking_id"`
	IndexIDArray []string `json:"index_id_array"`
}

// ProgressUpdatedPayload is published on progress_updated after every
// indices_inserted batch, and with Failed set when a unit of work is
// abandoned.
type ProgressUpdatedPayload struct {
	ProgressType    string  `json:"progress_type"`
	ID              string  `json:"id"`
	TargetID        string  `json:"target_id,omitempty"`
	PercentComplete float64 `json:"percent_complete"`
	TrackingID      string  `json:"tracking_id"`
	Failed          bool    `json:"failed,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// InsertedPayload is the shape of the completion notifications emitted while
// bubbling up the progress tree (document_inserted, prompt_inserted,
// lesson_completed).
type InsertedPayload struct {
	ID         string `json:"id"`
	TargetID   string `json:"target_id,omitempty"`
	TrackingID string `json:"tracking_id"`
}

// StatusPayload answers an acknowledge broadcast with a service's metrics
// window.
type StatusPayload struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Timestamp float64        `json:"timestamp"`
	Metrics   metrics.Packet `json:"metrics"`
}

// RepoSubmitIDsPayload is published on repo_submit_ids after a scan pass,
// listing the repositories discovered under the repo root.
type RepoSubmitIDsPayload struct {
	Repos []core.Repo `json:"repos"`
}

// RepoFileFoundPayload is published on repo_file_found for every new file
// discovered in a repository.
type RepoFileFoundPayload struct {
	Node core.FileNode `json:"node"`
}
