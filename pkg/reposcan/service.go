// Package reposcan discovers repositories and their files. A repository is
// any directory under REPO_ROOT carrying a .repo marker with a stable
// repository.id; discovered documents are submitted for scanning and .engram
// files are ingested directly, bypassing the sense pipeline.
package reposcan

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
)

// repoMarker is the per-repository config file.
const repoMarker = ".repo"

// Metric names.
const (
	metricReposDiscovered = "repos_discovered"
	metricFilesFound      = "files_found"
	metricEngramFiles     = "engram_files_ingested"
)

// repoMarkerFile is the parsed .repo marker.
type repoMarkerFile struct {
	Repository struct {
		ID   string `toml:"id"`
		Name string `toml:"name"`
	} `toml:"repository"`
}

// Service is the repository scanner.
type Service struct {
	service.Base
	registry *plugin.Registry
	metrics  *metrics.Tracker
	root     string

	docRepo *repository.DocumentRepository
}

// NewService builds the scanner over the given repo root. An empty root
// disables scanning.
func NewService(h *host.Host, root string) service.Service {
	return &Service{
		Base:     service.NewBase(h.Bus(), h.Executor()),
		registry: h.Plugins(),
		metrics:  metrics.NewTracker(),
		root:     root,
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "RepoService" }

// InitAsync connects the document store and sets up subscriptions.
func (s *Service) InitAsync(ctx context.Context) error {
	db, err := s.registry.DocumentDB("document")
	if err != nil {
		return err
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}
	s.docRepo = repository.NewDocumentRepository(db)

	s.Subscribe(bus.TopicAcknowledge, s.onAcknowledge)
	return nil
}

// Start kicks off the initial scan.
func (s *Service) Start(_ context.Context) error {
	if s.root == "" {
		slog.Info("Repo root not configured, scanner idle")
		return nil
	}
	s.RunTask("scan_repos", func(ctx context.Context) (any, error) {
		return nil, s.ScanAll(ctx)
	})
	return nil
}

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

// ScanAll discovers every repository under the root and scans each one.
// Re-scanning is idempotent: FileNode ids are content-hash stable and known
// nodes are not resubmitted.
func (s *Service) ScanAll(ctx context.Context) error {
	repos, err := s.DiscoverRepos()
	if err != nil {
		return err
	}
	s.PublishAsync(bus.TopicRepoSubmitIDs, bus.Encode(bus.RepoSubmitIDsPayload{Repos: repos}))

	for _, repo := range repos {
		if err := s.scanRepo(ctx, repo); err != nil {
			slog.Error("Repository scan failed", "repo", repo.Name, "error", err)
		}
	}
	s.PublishAsync(bus.TopicRepoDirectoryScanned, map[string]any{"root": s.root})
	return nil
}

// DiscoverRepos walks the root for directories carrying a .repo marker. A
// marker without repository.id is skipped with a warning; the reserved name
// "null" is rejected.
func (s *Service) DiscoverRepos() ([]core.Repo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read repo root %s: %w", s.root, err)
	}

	var repos []core.Repo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		markerPath := filepath.Join(s.root, entry.Name(), repoMarker)
		data, err := os.ReadFile(markerPath)
		if err != nil {
			continue
		}

		var marker repoMarkerFile
		if err := toml.Unmarshal(data, &marker); err != nil {
			slog.Warn("Malformed .repo marker, skipping", "path", markerPath, "error", err)
			continue
		}
		if marker.Repository.ID == "" {
			slog.Warn("Repository marker missing repository.id, skipping", "path", markerPath)
			continue
		}
		name := marker.Repository.Name
		if name == "" {
			name = entry.Name()
		}
		if name == core.ReservedNullRepo {
			slog.Warn("Repository name 'null' is reserved, skipping", "path", markerPath)
			continue
		}

		repos = append(repos, core.Repo{
			ID:   marker.Repository.ID,
			Name: name,
			Path: filepath.Join(s.root, entry.Name()),
		})
		s.metrics.Increment(metricReposDiscovered)
	}
	return repos, nil
}

// scanRepo walks one repository, saving new file nodes and submitting new
// documents for scanning.
func (s *Service) scanRepo(ctx context.Context, repo core.Repo) error {
	return filepath.WalkDir(repo.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == repoMarker {
			return nil
		}

		rel, err := filepath.Rel(repo.Path, path)
		if err != nil {
			return err
		}
		dirs := []string{repo.Path}
		if sub := filepath.Dir(rel); sub != "." {
			dirs = append(dirs, strings.Split(sub, string(filepath.Separator))...)
		}

		node, err := core.NewFileNode(core.FileNodeRootData, d.Name(), core.FileNodeTypeFile, dirs)
		if err != nil {
			return err
		}
		node.RepoID = repo.ID

		known, err := s.docRepo.Load(ctx, []string{node.ID})
		if err != nil {
			return err
		}
		if len(known) > 0 {
			return nil
		}

		if err := s.docRepo.Save(ctx, node); err != nil {
			return err
		}
		s.metrics.Increment(metricFilesFound)
		s.PublishAsync(bus.TopicRepoFileFound, bus.Encode(bus.RepoFileFoundPayload{Node: *node}))

		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".pdf":
			s.PublishAsync(bus.TopicSubmitDocument, bus.Encode(node))
		case ".engram":
			if err := s.ingestEngramFile(path, node); err != nil {
				slog.Warn("Engram file rejected", "path", path, "error", err)
			}
		}
		return nil
	})
}

// engramFile is the parsed .engram seed file: one meta plus its engrams.
type engramFile struct {
	Meta   map[string]any   `toml:"meta"`
	Engram []map[string]any `toml:"engram"`
}

// ingestEngramFile seeds memory from an .engram file without a sense scan.
func (s *Service) ingestEngramFile(path string, node *core.FileNode) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file engramFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	meta := &core.Meta{Type: core.MetaTypeDocument}
	if err := decodeVia(file.Meta, meta); err != nil {
		return fmt.Errorf("%w: meta: %v", core.ErrValidation, err)
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}

	engrams := make([]*core.Engram, 0, len(file.Engram))
	for i, table := range file.Engram {
		var engram core.Engram
		if err := decodeVia(table, &engram); err != nil {
			return fmt.Errorf("%w: engram %d: %v", core.ErrValidation, i, err)
		}
		if engram.Content == "" {
			return fmt.Errorf("%w: engram %d has empty content", core.ErrValidation, i)
		}
		if engram.ID == "" {
			engram.ID = uuid.NewString()
		}
		if len(engram.MetaIDs) == 0 {
			engram.MetaIDs = []string{meta.ID}
		}
		if engram.CreatedDate.IsZero() {
			engram.CreatedDate = time.Now().UTC()
		}
		engrams = append(engrams, &engram)
	}

	s.metrics.Increment(metricEngramFiles)
	s.PublishAsync(bus.TopicDocumentCreated, bus.Encode(bus.NodeCreatedPayload{
		ID:         node.ID,
		TrackingID: node.TrackingID,
		TargetID:   node.ID,
	}))
	s.PublishAsync(bus.TopicObservationComplete, bus.Encode(bus.ObservationCompletePayload{
		Observation: core.Observation{
			ID:         uuid.NewString(),
			ParentID:   node.ID,
			TrackingID: node.TrackingID,
			Meta:       meta,
			EngramList: engrams,
			CreatedAt:  time.Now().UTC(),
		},
		RepoID: node.RepoID,
	}))
	return nil
}

// decodeVia round-trips a TOML table into a typed entity through JSON so
// both decoders agree on field names.
func decodeVia(table map[string]any, out any) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Service) onAcknowledge(_ map[string]any) {
	s.PublishAsync(bus.TopicStatus, bus.Encode(bus.StatusPayload{
		ID:        s.ID,
		Name:      s.Name(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Metrics:   s.metrics.GetAndResetPacket(),
	}))
}
