package core

// PromptAnalysis is the retrieve stage's structural read of a prompt: how
// long the answer should be, what kind of prompt it is, the reasoning steps
// suggested for the response LLM, and the dynamic index phrases generated
// for vector lookup (order preserved from the LLM so recorded runs replay
// deterministically).
type PromptAnalysis struct {
	ResponseLength string   `json:"response_length,omitempty"`
	UserPromptType string   `json:"user_prompt_type,omitempty"`
	ThinkingSteps  []string `json:"thinking_steps,omitempty"`
	Indices        []string `json:"indices,omitempty"`
}
