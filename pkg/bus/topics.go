package bus

// Bus topics. This is a closed set: services publish and subscribe only to
// the names below, so a swapped-in socket transport can route by exact topic
// string.
const (
	TopicSubmitPrompt   = "submit_prompt"
	TopicSubmitDocument = "submit_document"

	// Pipeline completion chain — causally ordered per prompt, interleaved
	// across concurrent prompts and correlated by tracking_id.
	TopicRetrieveComplete    = "retrieve_complete"
	TopicMainPromptComplete  = "main_prompt_complete"
	TopicObservationComplete = "observation_complete"
	TopicEngramComplete      = "engram_complete"
	TopicMetaComplete        = "meta_complete"
	TopicIndexComplete       = "index_complete"

	// Progress tree events.
	TopicLessonCreated      = "lesson_created"
	TopicLessonCompleted    = "lesson_completed"
	TopicPromptCreated      = "prompt_created"
	TopicPromptInserted     = "prompt_inserted"
	TopicDocumentCreated    = "document_created"
	TopicDocumentInserted   = "document_inserted"
	TopicObservationCreated = "observation_created"
	TopicEngramsCreated     = "engrams_created"
	TopicIndicesCreated     = "indices_created"
	TopicIndicesInserted    = "indices_inserted"
	TopicProgressUpdated    = "progress_updated"

	// Repository scanner events.
	TopicRepoSubmitIDs             = "repo_submit_ids"
	TopicRepoDirectoryScanned      = "repo_directory_scanned"
	TopicRepoFileFound             = "repo_file_found"
	TopicRepoFileFolderTreeUpdated = "repo_file_folder_tree_updated"

	// Service housekeeping.
	TopicStatus        = "status"
	TopicAcknowledge   = "acknowledge"
	TopicStartProfiler = "start_profiler"
	TopicEndProfiler   = "end_profiler"
)
