package core

import (
	"fmt"

	"github.com/google/uuid"
)

// ThinkingLevel controls how much deliberate reasoning the response LLM is
// asked to perform.
type ThinkingLevel string

// Thinking level values.
const (
	ThinkingLevelLow    ThinkingLevel = "low"
	ThinkingLevelMedium ThinkingLevel = "medium"
	ThinkingLevelHigh   ThinkingLevel = "high"
)

// Prompt is a single user (or internally generated) request submitted to the
// retrieve pipeline. It is immutable after publication on the bus.
//
// RepoIDsFilters selects which repositories the vector queries may read from.
// A nil slice means "no filter", which resolves to the reserved null repo
// only. An empty non-nil slice is illegal and rejected at construction.
type Prompt struct {
	PromptID         string         `json:"prompt_id"`
	PromptStr        string         `json:"prompt_str"`
	RepoIDsFilters   []string       `json:"repo_ids_filters,omitempty"`
	TrainingMode     bool           `json:"training_mode"`
	IsLesson         bool           `json:"is_lesson"`
	TrackingID       string         `json:"tracking_id"`
	ParentID         string         `json:"parent_id,omitempty"`
	ThinkingLevel    ThinkingLevel  `json:"thinking_level,omitempty"`
	TargetSingleFile bool           `json:"target_single_file,omitempty"`
	InputData        map[string]any `json:"input_data,omitempty"`
}

// PromptOption customizes a Prompt at construction.
type PromptOption func(*Prompt)

// WithRepoFilters restricts retrieval to the given repository ids.
func WithRepoFilters(repoIDs []string) PromptOption {
	return func(p *Prompt) { p.RepoIDsFilters = repoIDs }
}

// WithTrainingMode enables the codify stage for the resulting response.
func WithTrainingMode(enabled bool) PromptOption {
	return func(p *Prompt) { p.TrainingMode = enabled }
}

// WithTrackingID correlates this prompt with work spawned by a prior action.
func WithTrackingID(trackingID string) PromptOption {
	return func(p *Prompt) { p.TrackingID = trackingID }
}

// WithParentID attaches the prompt beneath an existing progress node.
func WithParentID(parentID string) PromptOption {
	return func(p *Prompt) { p.ParentID = parentID }
}

// WithIsLesson marks the prompt as part of a lesson run.
func WithIsLesson(isLesson bool) PromptOption {
	return func(p *Prompt) { p.IsLesson = isLesson }
}

// WithThinkingLevel sets the reasoning depth requested from the response LLM.
func WithThinkingLevel(level ThinkingLevel) PromptOption {
	return func(p *Prompt) { p.ThinkingLevel = level }
}

// WithInputData merges free-form template inputs into the prompt.
func WithInputData(data map[string]any) PromptOption {
	return func(p *Prompt) {
		if p.InputData == nil {
			p.InputData = make(map[string]any, len(data))
		}
		for k, v := range data {
			p.InputData[k] = v
		}
	}
}

// NewPrompt constructs a Prompt, assigning prompt and tracking ids when
// absent. An empty, non-nil repo filter list is rejected: callers must either
// pass nil (default repo only) or name at least one repository.
func NewPrompt(promptStr string, opts ...PromptOption) (*Prompt, error) {
	p := &Prompt{
		PromptStr: promptStr,
		InputData: make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.RepoIDsFilters != nil && len(p.RepoIDsFilters) == 0 {
		return nil, fmt.Errorf("%w: repo_ids_filters must be nil or non-empty", ErrValidation)
	}
	if p.PromptID == "" {
		p.PromptID = uuid.NewString()
	}
	if p.TrackingID == "" {
		p.TrackingID = uuid.NewString()
	}

	p.InputData["prompt_str"] = p.PromptStr
	p.InputData["training_mode"] = p.TrainingMode
	p.InputData["is_lesson"] = p.IsLesson

	return p, nil
}

// Render returns the raw prompt text used as LLM input.
func (p *Prompt) Render() string {
	return p.PromptStr
}
