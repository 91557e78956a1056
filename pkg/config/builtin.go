package config

import "github.com/pelletier/go-toml/v2"

// builtinTOML defines the profiles every build ships with. The mock profile
// routes all four plugin categories to deterministic in-process backends;
// the standard profile names the live backends. User profile files override
// tables of the same name.
const builtinTOML = `
version = 1.0

[mock]
name = "mock"

[mock.llm.retrieve_gen_conversation_direction]
name = "mock"
[mock.llm.retrieve_prompt_analysis]
name = "mock"
[mock.llm.retrieve_gen_index]
name = "mock"
[mock.llm.response_main]
name = "mock"
[mock.llm.codify_validate]
name = "mock"
[mock.llm.consolidate_summary]
name = "mock"
[mock.llm.consolidate_gen_indices]
name = "mock"
[mock.llm.sense_meta]
name = "mock"
[mock.llm.sense_scan]
name = "mock"
[mock.llm.sense_full_summary]
name = "mock"

[mock.embedding.gen_embed]
name = "mock"
dimensions = 8

[mock.vector_db.db]
name = "mock"
threshold = 0.5
n_results = 20

[mock.db.document]
name = "mock"

[standard]
name = "standard"

[standard.llm.retrieve_gen_conversation_direction]
name = "gemini"
model = "gemini-2.5-flash"
[standard.llm.retrieve_prompt_analysis]
name = "gemini"
model = "gemini-2.5-flash"
[standard.llm.retrieve_gen_index]
name = "gemini"
model = "gemini-2.5-flash"
[standard.llm.response_main]
name = "gemini"
model = "gemini-2.5-pro"
[standard.llm.codify_validate]
name = "gemini"
model = "gemini-2.5-pro"
[standard.llm.consolidate_summary]
name = "gemini"
model = "gemini-2.5-flash"
[standard.llm.consolidate_gen_indices]
name = "gemini"
model = "gemini-2.5-flash"
[standard.llm.sense_meta]
name = "gemini"
model = "gemini-2.5-pro"
[standard.llm.sense_scan]
name = "gemini"
model = "gemini-2.5-pro"
[standard.llm.sense_full_summary]
name = "gemini"
model = "gemini-2.5-flash"

[standard.embedding.gen_embed]
name = "openai"
model = "text-embedding-3-small"
dimensions = 1536

[standard.vector_db.db]
name = "qdrant"
host = "localhost"
port = 6334
threshold = 0.5
n_results = 20

[standard.db.document]
name = "postgres"
dsn_env = "ENGRAMIC_DATABASE_URL"
history_limit = 5

[default]
type = "pointer"
ptr = "standard"
`

func builtinProfileTables() map[string]any {
	var raw map[string]any
	if err := toml.Unmarshal([]byte(builtinTOML), &raw); err != nil {
		// The built-in profile text is compiled into the binary; failing to
		// parse it is unrecoverable.
		panic("config: built-in profiles malformed: " + err.Error())
	}
	return raw
}
