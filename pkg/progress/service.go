// Package progress tracks completion of nested work as a tree of
// create/complete events. Nodes hold their children's completion flags;
// parent edges live in a separate lookup map so the graph stays acyclic by
// construction and traversal is by index lookup, never by pointer.
//
// All handlers run on the bus goroutine; the maps are mutated without a
// lock and the service is not re-entrant.
package progress

import (
	"context"
	"log/slog"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/service"
)

// Node item types.
const (
	ItemTypeLesson      = "lesson"
	ItemTypePrompt      = "prompt"
	ItemTypeDocument    = "document"
	ItemTypeObservation = "observation"
	ItemTypeEngram      = "engram"
)

// initialPercent is reported when a root node is created, so clients see
// motion before the first index lands.
const initialPercent = 0.05

// node is one entry in the progress tree. A node is complete exactly when
// every value in its children map is true.
type node struct {
	itemType   string
	trackingID string
	targetID   string
	children   map[string]bool
}

// bubbleState aggregates index counts per tracking id and remembers the
// root the percentage is reported against.
type bubbleState struct {
	totalIndices     int
	completedIndices int
	isComplete       bool
	rootNode         string
	targetID         string
}

// Service is the progress tracker.
type Service struct {
	service.Base

	nodes    map[string]*node       // id → node
	parentOf map[string]string      // child id → parent id
	tracking map[string]*bubbleState // tracking id → aggregate
}

// NewService builds the progress tracker on the host's bus and executor.
func NewService(h *host.Host) service.Service {
	return &Service{
		Base:     service.NewBase(h.Bus(), h.Executor()),
		nodes:    make(map[string]*node),
		parentOf: make(map[string]string),
		tracking: make(map[string]*bubbleState),
	}
}

// Name implements the service contract.
func (s *Service) Name() string { return "ProgressService" }

// InitAsync sets up subscriptions.
func (s *Service) InitAsync(_ context.Context) error {
	s.Subscribe(bus.TopicLessonCreated, func(p map[string]any) { s.onNodeCreated(ItemTypeLesson, p) })
	s.Subscribe(bus.TopicPromptCreated, func(p map[string]any) { s.onNodeCreated(ItemTypePrompt, p) })
	s.Subscribe(bus.TopicDocumentCreated, func(p map[string]any) { s.onNodeCreated(ItemTypeDocument, p) })
	s.Subscribe(bus.TopicObservationCreated, func(p map[string]any) { s.onNodeCreated(ItemTypeObservation, p) })
	s.Subscribe(bus.TopicEngramsCreated, s.onEngramsCreated)
	s.Subscribe(bus.TopicIndicesCreated, s.onIndicesCreated)
	s.Subscribe(bus.TopicIndicesInserted, s.onIndicesInserted)
	return nil
}

// Start implements the service contract.
func (s *Service) Start(_ context.Context) error { return nil }

// Stop implements the service contract.
func (s *Service) Stop(_ context.Context) error { return nil }

// onNodeCreated adds a node to the tree. A node with a parent is registered
// as that parent's incomplete child; a node without one becomes a root and
// reports initial progress.
func (s *Service) onNodeCreated(itemType string, payload map[string]any) {
	var msg bus.NodeCreatedPayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed node creation payload", "item_type", itemType, "error", err)
		return
	}

	n := s.ensureNode(msg.ID, itemType)
	targetID := msg.TargetID
	if targetID == "" {
		targetID = msg.ID
	}

	if msg.ParentID != "" {
		parent, ok := s.nodes[msg.ParentID]
		if !ok {
			slog.Warn("Progress parent missing, attaching as root",
				"id", msg.ID, "parent_id", msg.ParentID)
		} else {
			parent.children[msg.ID] = false
			parent.trackingID = msg.TrackingID
			s.parentOf[msg.ID] = msg.ParentID
			return
		}
	}

	n.trackingID = msg.TrackingID
	n.targetID = targetID
	s.PublishAsync(bus.TopicProgressUpdated, bus.Encode(bus.ProgressUpdatedPayload{
		ProgressType:    itemType,
		ID:              msg.ID,
		TargetID:        targetID,
		PercentComplete: initialPercent,
		TrackingID:      msg.TrackingID,
	}))
}

func (s *Service) onEngramsCreated(payload map[string]any) {
	var msg bus.EngramsCreatedPayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed engrams_created payload", "error", err)
		return
	}
	parent, ok := s.nodes[msg.ParentID]
	if !ok {
		slog.Warn("engrams_created for unknown parent", "parent_id", msg.ParentID)
		return
	}
	for _, engramID := range msg.EngramIDArray {
		s.ensureNode(engramID, ItemTypeEngram)
		parent.children[engramID] = false
		s.parentOf[engramID] = msg.ParentID
	}
}

// onIndicesCreated registers index children under their engram and grows
// the tracking id's expected index count.
func (s *Service) onIndicesCreated(payload map[string]any) {
	var msg bus.IndexBatchPayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed indices_created payload", "error", err)
		return
	}
	parent, ok := s.nodes[msg.ParentID]
	if !ok {
		slog.Warn("indices_created for unknown parent", "parent_id", msg.ParentID)
		return
	}
	for _, indexID := range msg.IndexIDArray {
		parent.children[indexID] = false
		s.parentOf[indexID] = msg.ParentID
	}

	state, ok := s.tracking[msg.TrackingID]
	if !ok {
		state = &bubbleState{}
		s.findRoot(msg.ParentID, state)
		s.tracking[msg.TrackingID] = state
	}
	state.totalIndices += len(msg.IndexIDArray)
}

// onIndicesInserted marks the inserted indices complete, bubbles completion
// up the tree, reports the aggregate percentage, and tears the subtree down
// once the root completes.
func (s *Service) onIndicesInserted(payload map[string]any) {
	var msg bus.IndexBatchPayload
	if err := bus.Decode(payload, &msg); err != nil {
		slog.Error("Malformed indices_inserted payload", "error", err)
		return
	}
	parent, ok := s.nodes[msg.ParentID]
	if !ok {
		slog.Warn("indices_inserted for unknown parent", "parent_id", msg.ParentID)
		return
	}
	for _, indexID := range msg.IndexIDArray {
		parent.children[indexID] = true
	}

	state, ok := s.tracking[msg.TrackingID]
	if !ok {
		slog.Warn("indices_inserted for unknown tracking id", "tracking_id", msg.TrackingID)
		return
	}
	state.completedIndices += len(msg.IndexIDArray)

	s.bubbleUpIfComplete(msg.ParentID, state)

	root, ok := s.nodes[state.rootNode]
	if !ok {
		return
	}
	percent := 0.0
	if state.totalIndices > 0 {
		percent = float64(state.completedIndices) / float64(state.totalIndices)
	}
	s.PublishAsync(bus.TopicProgressUpdated, bus.Encode(bus.ProgressUpdatedPayload{
		ProgressType:    root.itemType,
		ID:              state.rootNode,
		TargetID:        root.targetID,
		PercentComplete: percent,
		TrackingID:      msg.TrackingID,
	}))

	if state.isComplete {
		s.deleteSubtree(state.rootNode)
		delete(s.tracking, msg.TrackingID)
	}
}

// bubbleUpIfComplete walks upward from a node: when every child of the
// current node is complete, notify, mark the node complete in its own
// parent, and continue; stop at the first incomplete node or at the root.
// The visited guard protects against a malformed edge set.
func (s *Service) bubbleUpIfComplete(nodeID string, state *bubbleState) {
	visited := make(map[string]bool)
	current := nodeID
	for {
		if visited[current] {
			slog.Error("Cycle detected in progress tree", "node", current)
			return
		}
		visited[current] = true

		n, ok := s.nodes[current]
		if !ok {
			slog.Error("Node missing from progress tree", "node", current)
			return
		}
		for _, done := range n.children {
			if !done {
				return
			}
		}

		s.notifyComplete(current, n)

		parentID, hasParent := s.parentOf[current]
		if !hasParent {
			state.isComplete = true
			state.rootNode = current
			state.targetID = n.targetID
			return
		}
		s.nodes[parentID].children[current] = true
		current = parentID
	}
}

// notifyComplete announces a completed node of interest to downstream
// consumers.
func (s *Service) notifyComplete(id string, n *node) {
	payload := bus.Encode(bus.InsertedPayload{
		ID:         id,
		TargetID:   n.targetID,
		TrackingID: n.trackingID,
	})
	switch n.itemType {
	case ItemTypeDocument:
		s.PublishAsync(bus.TopicDocumentInserted, payload)
	case ItemTypePrompt:
		s.PublishAsync(bus.TopicPromptInserted, payload)
	case ItemTypeLesson:
		s.PublishAsync(bus.TopicLessonCompleted, payload)
	}
}

// findRoot walks to the top of the tree and records it in the state.
func (s *Service) findRoot(nodeID string, state *bubbleState) {
	visited := make(map[string]bool)
	current := nodeID
	for {
		if visited[current] {
			slog.Error("Cycle detected while finding progress root", "node", current)
			return
		}
		visited[current] = true
		parentID, ok := s.parentOf[current]
		if !ok {
			state.rootNode = current
			if n, found := s.nodes[current]; found {
				state.targetID = n.targetID
			}
			return
		}
		current = parentID
	}
}

// deleteSubtree removes a completed root and every descendant from both
// maps.
func (s *Service) deleteSubtree(rootID string) {
	n, ok := s.nodes[rootID]
	if !ok {
		return
	}
	for childID := range n.children {
		s.deleteSubtree(childID)
		delete(s.parentOf, childID)
	}
	delete(s.nodes, rootID)
	delete(s.parentOf, rootID)
}

func (s *Service) ensureNode(id, itemType string) *node {
	if existing, ok := s.nodes[id]; ok {
		return existing
	}
	n := &node{itemType: itemType, children: make(map[string]bool)}
	s.nodes[id] = n
	return n
}
