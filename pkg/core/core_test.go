package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPromptAssignsIDs(t *testing.T) {
	p, err := NewPrompt("Tell me about the All In podcast.")
	require.NoError(t, err)
	assert.NotEmpty(t, p.PromptID)
	assert.NotEmpty(t, p.TrackingID)
	assert.Nil(t, p.RepoIDsFilters)
	assert.Equal(t, "Tell me about the All In podcast.", p.InputData["prompt_str"])
}

func TestNewPromptRejectsEmptyRepoFilter(t *testing.T) {
	_, err := NewPrompt("x", WithRepoFilters([]string{}))
	assert.ErrorIs(t, err, ErrValidation)

	// nil means "default repo only" and is accepted.
	p, err := NewPrompt("x", WithRepoFilters(nil))
	require.NoError(t, err)
	assert.Nil(t, p.RepoIDsFilters)

	// A non-empty list is accepted verbatim.
	p, err = NewPrompt("x", WithRepoFilters([]string{"repo-1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-1"}, p.RepoIDsFilters)
}

func TestResponseHashMatchesContent(t *testing.T) {
	r := NewResponse("id", "The podcast is about politics.", RetrieveResult{}, "", PromptAnalysis{}, "mock")
	assert.Equal(t, HashContent(r.Response), r.Hash)
	// An md5 digest is 32 hex characters.
	assert.Len(t, r.Hash, 32)
}

func TestEngramRender(t *testing.T) {
	e := NewEngram("Entanglement is a shared quantum state.",
		[]string{"resource/quantum.pdf"}, []string{"src-1"}, true)
	e.Context = map[string]string{"section": "Entanglement"}
	e.Indices = []Index{{Text: "what is quantum entanglement"}}

	out := e.Render()
	assert.True(t, strings.HasPrefix(out, "<begin>"))
	assert.Contains(t, out, "<location>\nresource/quantum.pdf</location>")
	assert.Contains(t, out, "<section>Entanglement</section>")
	assert.Contains(t, out, "what is quantum entanglement")
	assert.Contains(t, out, "The text is directly from the source.")
	assert.Contains(t, out, "<text>Entanglement is a shared quantum state.</text>")

	e.IsNativeSource = false
	assert.Contains(t, e.Render(), "The text is derived from one or more sources.")
}

func TestFileNodeIDStableAcrossRescans(t *testing.T) {
	a, err := NewFileNode(FileNodeRootData, "intro.pdf", FileNodeTypeFile, []string{"corpus", "physics"})
	require.NoError(t, err)
	b, err := NewFileNode(FileNodeRootData, "intro.pdf", FileNodeTypeFile, []string{"corpus", "physics"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.TrackingID, b.TrackingID)

	// A folder with the same path hashes differently.
	c, err := NewFileNode(FileNodeRootData, "intro.pdf", FileNodeTypeFolder, []string{"corpus", "physics"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestFileNodeRejectsUnknownRoot(t *testing.T) {
	_, err := NewFileNode("scratch", "x", FileNodeTypeFile, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProcessLifecycle(t *testing.T) {
	p := NewProcess("document_scan", []string{"rasterize", "scan", "summarize"})
	assert.Equal(t, ProcessStatusInit, p.Status)

	p.Advance()
	assert.Equal(t, ProcessStatusRunning, p.Status)
	assert.InDelta(t, 1.0/3.0, p.PercentComplete, 1e-9)

	p.Advance()
	p.Advance()
	assert.Equal(t, ProcessStatusDone, p.Status)
	assert.Equal(t, 1.0, p.PercentComplete)

	failed := NewProcess("doomed", []string{"only"})
	failed.Fail("file lookup without a repo")
	failed.Advance()
	assert.Equal(t, ProcessStatusFailed, failed.Status)
	assert.Equal(t, "file lookup without a repo", failed.FailedMessage)
}
