package core

// ConversationDirection captures where the conversation is heading, derived
// by an LLM from the prompt and recent working memory. Retrieval uses the
// user intent for the coarse meta query; research-worthy prompts may fan out
// further.
type ConversationDirection struct {
	UserIntent      string `json:"user_intent"`
	WorkingMemory   string `json:"working_memory,omitempty"`
	PerformResearch bool   `json:"perform_research"`
}

// RetrieveResult is the output of the retrieve pipeline for one prompt: the
// candidate engram ids found by vector search, correlated by the ask id.
type RetrieveResult struct {
	AskID                 string                `json:"ask_id"`
	EngramIDArray         []string              `json:"engram_id_array"`
	ConversationDirection ConversationDirection `json:"conversation_direction"`
}
