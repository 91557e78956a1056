package reposcan

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/service"
	_ "github.com/engramic/engramic/pkg/plugin/db/mock"
	_ "github.com/engramic/engramic/pkg/plugin/embedding/mock"
	_ "github.com/engramic/engramic/pkg/plugin/llm/mock"
	_ "github.com/engramic/engramic/pkg/plugin/vectordb/mock"
)

const validMarker = `
[repository]
id = "repo-quantum"
name = "quantum"
`

const engramFileContent = `
[meta]
keywords = ["quantum"]
summary_initial = "Seed memory."

[[engram]]
content = "Entanglement links distant qubits."
is_native_source = true
locations = ["seed/quantum.engram"]
source_ids = ["seed-1"]
`

func writeRepoRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	quantum := filepath.Join(root, "quantum")
	require.NoError(t, os.MkdirAll(quantum, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(quantum, ".repo"), []byte(validMarker), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(quantum, "intro.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(quantum, "seed.engram"), []byte(engramFileContent), 0o644))

	// Marker without repository.id: skipped with a warning.
	broken := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, ".repo"), []byte("[repository]\nname = \"x\"\n"), 0o644))

	// Reserved name: skipped.
	reserved := filepath.Join(root, "reserved")
	require.NoError(t, os.MkdirAll(reserved, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(reserved, ".repo"),
		[]byte("[repository]\nid = \"r1\"\nname = \"null\"\n"), 0o644))

	// No marker at all: not a repository.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "plain"), 0o755))

	return root
}

func startScanner(t *testing.T, root string) (*host.Host, *Service) {
	t.Helper()
	profile, err := config.Builtin().Resolve("mock")
	require.NoError(t, err)
	registry := plugin.NewRegistry(profile, plugin.ModeReplay, nil)

	// Construct idle (empty root) so the automatic Start scan does not race
	// the test's subscriptions; each test drives ScanAll itself.
	var svc *Service
	h := host.New(registry, func(h *host.Host) service.Service {
		svc = NewService(h, "").(*Service)
		return svc
	})
	require.NoError(t, h.Run(context.Background()))
	svc.root = root
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h, svc
}

func TestDiscoverReposSkipsInvalidMarkers(t *testing.T) {
	_, svc := startScanner(t, writeRepoRoot(t))

	repos, err := svc.DiscoverRepos()
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "repo-quantum", repos[0].ID)
	assert.Equal(t, "quantum", repos[0].Name)
}

func TestScanSubmitsDocumentsAndSeedsEngramFiles(t *testing.T) {
	root := writeRepoRoot(t)
	h, svc := startScanner(t, root)

	var mu sync.Mutex
	var found []bus.RepoFileFoundPayload
	submitted := make(chan map[string]any, 1)
	observations := make(chan bus.ObservationCompletePayload, 1)

	h.Bus().Subscribe(bus.TopicRepoFileFound, func(p map[string]any) {
		var msg bus.RepoFileFoundPayload
		require.NoError(t, bus.Decode(p, &msg))
		mu.Lock()
		found = append(found, msg)
		mu.Unlock()
	})
	h.Bus().Subscribe(bus.TopicSubmitDocument, func(p map[string]any) { submitted <- p })
	h.Bus().Subscribe(bus.TopicObservationComplete, func(p map[string]any) {
		var msg bus.ObservationCompletePayload
		require.NoError(t, bus.Decode(p, &msg))
		observations <- msg
	})

	require.NoError(t, svc.ScanAll(context.Background()))

	// The PDF is submitted for scanning.
	select {
	case p := <-submitted:
		assert.Equal(t, "intro.pdf", p["file_name"])
	case <-time.After(2 * time.Second):
		t.Fatal("submit_document never published")
	}

	// The .engram file seeds memory directly.
	select {
	case msg := <-observations:
		require.Len(t, msg.Observation.EngramList, 1)
		assert.Equal(t, "Entanglement links distant qubits.", msg.Observation.EngramList[0].Content)
		assert.True(t, msg.Observation.EngramList[0].IsNativeSource)
		assert.Equal(t, "repo-quantum", msg.RepoID)
		require.NotNil(t, msg.Observation.Meta)
		assert.NotEmpty(t, msg.Observation.EngramList[0].MetaIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("engram file was not ingested")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(found) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Re-scanning finds the same stable ids and enqueues nothing new.
	require.NoError(t, svc.ScanAll(context.Background()))
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Len(t, found, 2)
	mu.Unlock()
}
