// Package sense ingests documents: rasterized pages are scanned into
// annotated text by a vision LLM, split into context-tagged chunks, and
// synthesized into an observation of native-source engrams plus a meta.
// Rasterization itself is delegated to an injected collaborator.
package sense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/core"
	"github.com/engramic/engramic/pkg/executor"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/metrics"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/repository"
	"github.com/engramic/engramic/pkg/service"
)

// Scan bounds.
const (
	// shortSummaryPageCount is how many leading pages feed the initial scan.
	shortSummaryPageCount = 4
	// pageLimit caps how many pages are scanned per document.
	pageLimit = 30
)

// Metric names.
const (
	metricDocumentsReceived = "documents_received"
	metricPagesScanned      = "pages_scanned"
	metricEngramsCreated    = "engrams_created"
)

const (
	callerInitialScan = "initial_scan"
	callerScanPage    = "scan_page"
	callerFullSummary = "full_summary"
)

// scanPasses are the passes of the document_scan workflow record, in order.
var scanPasses = []string{"rasterize", "initial_scan", "scan_pages", "build_engrams", "full_summary"}

// ErrNoRasterizer is returned when a document arrives and no rasterizer was
// wired in.
var ErrNoRasterizer = errors.New("sense: no rasterizer configured")

// Rasterizer renders a document's pages to base64-encoded PNG strings. PDF
// handling lives behind this narrow contract, outside the pipeline.
type Rasterizer interface {
	RasterizePages(ctx context.Context, path string) ([]string, error)
}

// initialScan is the structured result of the meta LLM call over the first
// pages.
type initialScan struct {
	FilePath       string `json:"file_path"`
	FileName       string `json:"file_name"`
	Subject        string `json:"subject"`
	Audience       string `json:"audience"`
	DocumentTitle  string `json:"document_title"`
	DocumentFormat string `json:"document_format"`
	DocumentType   string `json:"document_type"`
	TOC            string `json:"toc"`
	SummaryInitial string `json:"summary_initial"`
	Author         string `json:"author"`
	Date           string `json:"date"`
	Version        string `json:"version"`
}

var initialScanSchema = map[string]string{
	"file_path": "string", "file_name": "string", "subject": "string",
	"audience": "string", "document_title": "string", "document_format": "string",
	"document_type": "string", "toc": "string", "summary_initial": "string",
	"author": "string", "date": "string", "version": "string",
}

// Service is the sense pipeline stage.
type Service struct {
	service.Base
	registry   *plugin.Registry
	metrics    *metrics.Tracker
	rasterizer Rasterizer

	llmMeta        *plugin.LLMHandle
	llmScan        *plugin.LLMHandle
	llmFullSummary *plugin.LLMHandle
	processRepo    *repository.ProcessRepository
}

// NewService builds the sense service. The rasterizer may be nil, in which
// case document submissions fail their unit of work.
func NewService(h *host.Host, rasterizer Rasterizer) service.Service {
	return &Service{
		Base:       service.NewBase(h.Bus(), h.Executor()),
		registry:   h.Plugins(),
		metrics:    metrics.NewTracker(),
		rasterizer: rasterizer,
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "SenseService" }

// InitAsync resolves plugins and sets up subscriptions.
func (s *Service) InitAsync(ctx context.Context) error {
	var err error
	if s.llmMeta, err = s.registry.LLM("sense_meta"); err != nil {
		return err
	}
	if s.llmScan, err = s.registry.LLM("sense_scan"); err != nil {
		return err
	}
	if s.llmFullSummary, err = s.registry.LLM("sense_full_summary"); err != nil {
		return err
	}
	db, err := s.registry.DocumentDB("document")
	if err != nil {
		return err
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}
	s.processRepo = repository.NewProcessRepository(db)

	s.Subscribe(bus.TopicSubmitDocument, s.onSubmitDocument)
	s.Subscribe(bus.TopicAcknowledge, s.onAcknowledge)
	return nil
}

// Start implements the service contract.
func (s *Service) Start(_ context.Context) error { return nil }

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

func (s *Service) onSubmitDocument(payload map[string]any) {
	var node core.FileNode
	if err := bus.Decode(payload, &node); err != nil {
		slog.Error("Malformed submit_document payload", "error", err)
		return
	}
	s.metrics.Increment(metricDocumentsReceived)

	s.PublishAsync(bus.TopicDocumentCreated, bus.Encode(bus.NodeCreatedPayload{
		ID:         node.ID,
		TrackingID: node.TrackingID,
		TargetID:   node.ID,
	}))

	s.RunTask("scan_"+node.ID, func(ctx context.Context) (any, error) {
		// One workflow record per document; the node id keys it so a
		// re-submitted document overwrites its prior record.
		process := core.NewProcess("document_scan", scanPasses)
		process.ID = node.ID
		process.CurrentTrackingID = node.TrackingID
		s.saveProcess(ctx, process)

		if err := s.scan(ctx, &node, process); err != nil {
			process.Fail(err.Error())
			s.saveProcess(ctx, process)
			s.publishFailed(&node, process.FailedMessage)
			if errors.Is(err, core.ErrValidation) {
				return nil, nil
			}
			return nil, err
		}
		s.saveProcess(ctx, process)
		return nil, nil
	})
}

// scan runs the full document flow: rasterize, initial scan, per-page
// scans, chunking, and the final summary, publishing the resulting
// observation. Each pass advances the document's workflow record.
func (s *Service) scan(ctx context.Context, node *core.FileNode, process *core.Process) error {
	if s.rasterizer == nil {
		return ErrNoRasterizer
	}

	pages, err := s.rasterizer.RasterizePages(ctx, node.FullPath())
	if err != nil {
		return fmt.Errorf("rasterize %s: %w", node.FullPath(), err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("%w: document %s has zero pages", core.ErrValidation, node.FullPath())
	}
	s.advance(ctx, process)

	initial, err := s.initialScan(ctx, node, pages)
	if err != nil {
		return err
	}
	s.advance(ctx, process)

	pageTexts, err := s.scanPages(ctx, pages)
	if err != nil {
		return err
	}
	document := strings.Join(pageTexts, "\n")
	s.advance(ctx, process)

	metaID := uuid.NewString()
	sourceID := core.HashContent(node.FullPath())
	engrams := s.buildEngrams(document, node, metaID, sourceID)
	s.metrics.Increment(metricEngramsCreated, len(engrams))
	s.advance(ctx, process)

	meta, err := s.fullSummary(ctx, document, initial, node, metaID, sourceID)
	if err != nil {
		return err
	}
	s.advance(ctx, process)

	observation := &core.Observation{
		ID:         uuid.NewString(),
		ParentID:   node.ID,
		TrackingID: node.TrackingID,
		Meta:       meta,
		EngramList: engrams,
		CreatedAt:  time.Now().UTC(),
	}
	s.PublishAsync(bus.TopicObservationComplete, bus.Encode(bus.ObservationCompletePayload{
		Observation: *observation,
		RepoID:      node.RepoID,
	}))
	return nil
}

// initialScan reads the document's identity from its first pages.
func (s *Service) initialScan(ctx context.Context, node *core.FileNode, pages []string) (*initialScan, error) {
	summaryPages := pages
	if len(summaryPages) > shortSummaryPageCount {
		summaryPages = summaryPages[:shortSummaryPageCount]
	}

	out, err := s.llmMeta.Submit(ctx, callerInitialScan, 0,
		renderMetaScan(node.FilePath(), node.FileName), initialScanSchema, summaryPages)
	if err != nil {
		return nil, err
	}
	var scan initialScan
	if err := json.Unmarshal([]byte(out), &scan); err != nil {
		return nil, fmt.Errorf("decode initial scan: %w", err)
	}
	return &scan, nil
}

// scanPages runs the per-page scan calls in parallel, capped at pageLimit,
// and returns the annotated texts in page order.
func (s *Service) scanPages(ctx context.Context, pages []string) ([]string, error) {
	if len(pages) > pageLimit {
		slog.Warn("Document exceeds page limit, truncating scan",
			"pages", len(pages), "limit", pageLimit)
		pages = pages[:pageLimit]
	}

	tasks := make([]executor.NamedTask, len(pages))
	for i, page := range pages {
		tasks[i] = executor.NamedTask{Name: callerScanPage, Task: func(ctx context.Context) (any, error) {
			return s.llmScan.Submit(ctx, callerScanPage, i, scanPageTemplate, nil, []string{page})
		}}
	}
	gathered, err := s.RunTasks(tasks).Result()
	if err != nil {
		return nil, err
	}

	results := gathered.(map[string][]executor.TaskResult)[callerScanPage]
	texts := make([]string, len(results))
	for i, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("scan page %d: %w", i, res.Err)
		}
		texts[i] = res.Value.(string)
		s.metrics.Increment(metricPagesScanned)
	}
	return texts, nil
}

// buildEngrams chunks the annotated document and wraps each leaf chunk as a
// native-source engram.
func (s *Service) buildEngrams(document string, node *core.FileNode, metaID, sourceID string) []*core.Engram {
	chunks := chunkDocument(document)
	engrams := make([]*core.Engram, 0, len(chunks))
	for _, c := range chunks {
		if c.text == "" {
			continue
		}
		engram := core.NewEngram(c.text, []string{node.FullPath()}, []string{sourceID}, true)
		engram.Context = c.context
		engram.MetaIDs = []string{metaID}
		if node.RepoID != "" {
			engram.LibraryIDs = []string{node.RepoID}
		}
		engrams = append(engrams, engram)
	}
	return engrams
}

// fullSummary runs the document-wide summary call and assembles the meta.
func (s *Service) fullSummary(ctx context.Context, document string, initial *initialScan, node *core.FileNode, metaID, sourceID string) (*core.Meta, error) {
	schema := map[string]string{"summary_full": "string", "keywords": "string_array"}
	out, err := s.llmFullSummary.Submit(ctx, callerFullSummary, 0,
		renderFullSummary(document), schema, nil)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		SummaryFull string   `json:"summary_full"`
		Keywords    []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return nil, fmt.Errorf("decode full summary: %w", err)
	}

	return &core.Meta{
		ID:             metaID,
		Type:           core.MetaTypeDocument,
		Locations:      []string{node.FullPath()},
		SourceIDs:      []string{sourceID},
		Keywords:       decoded.Keywords,
		SummaryInitial: initial.SummaryInitial,
		SummaryFull:    core.Index{Text: decoded.SummaryFull},
		ParentID:       node.ID,
	}, nil
}

// advance moves the workflow record to its next pass and persists it.
func (s *Service) advance(ctx context.Context, process *core.Process) {
	process.Advance()
	s.saveProcess(ctx, process)
}

// saveProcess persists the workflow record. Best effort: the record is
// operator-facing state, losing a write must not fail the scan.
func (s *Service) saveProcess(ctx context.Context, process *core.Process) {
	if err := s.processRepo.Save(ctx, process); err != nil {
		slog.Warn("Failed to persist process record",
			"process_id", process.ID, "status", process.Status, "error", err)
	}
}

// publishFailed surfaces the workflow's failure message so the user sees a
// plain-language reason.
func (s *Service) publishFailed(node *core.FileNode, message string) {
	slog.Warn("Document scan failed", "document", node.FullPath(), "reason", message)
	s.PublishAsync(bus.TopicProgressUpdated, bus.Encode(bus.ProgressUpdatedPayload{
		ProgressType: "document",
		ID:           node.ID,
		TargetID:     node.ID,
		TrackingID:   node.TrackingID,
		Failed:       true,
		Message:      message,
	}))
}

func (s *Service) onAcknowledge(_ map[string]any) {
	s.PublishAsync(bus.TopicStatus, bus.Encode(bus.StatusPayload{
		ID:        s.ID,
		Name:      s.Name(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Metrics:   s.metrics.GetAndResetPacket(),
	}))
}
