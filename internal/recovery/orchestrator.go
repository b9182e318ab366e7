package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/data/repos"
	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/match"
	"github.com/rhizomelab/rhizome-backend/internal/platform/dbctx"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
)

type RecoverDocumentDeps struct {
	DB         *gorm.DB
	Log        *logger.Logger
	Components repos.ComponentRepo
	Engine     *match.Engine
	Config     match.Config
	Notifier   Notifier
}

type RecoverDocumentInput struct {
	UserID uuid.UUID
	// Layout is the document's new markdown and chunk array, produced by
	// the re-chunk that invalidated the stored offsets.
	Layout types.ChunkLayout
}

type RecoverDocumentOptions struct {
	// Concurrency caps in-flight items. If <= 0, defaults to 4.
	Concurrency int

	// ItemTimeout hard-limits matching time for a single anchor. An item
	// that exceeds it is persisted as lost rather than stalling the batch.
	// If <= 0, defaults to 5 seconds.
	ItemTimeout time.Duration
}

// ItemResult is the per-anchor outcome of a batch run. Err is set when the
// item could not be persisted; such items keep their previous stored state.
type ItemResult struct {
	EntityID      uuid.UUID            `json:"entity_id"`
	ComponentID   uuid.UUID            `json:"component_id"`
	ComponentType string               `json:"component_type"`
	Method        types.RecoveryMethod `json:"method"`
	Confidence    float64              `json:"confidence"`
	NeedsReview   bool                 `json:"needs_review"`
	Err           string               `json:"error,omitempty"`
}

type RecoverDocumentOutput struct {
	DocumentID uuid.UUID    `json:"document_id"`
	Summary    Summary      `json:"summary"`
	Items      []ItemResult `json:"items"`
}

// RecoverDocument re-anchors every position and spark attached to the
// document against its new layout and persists the outcomes. Items are
// independent: a matching error or write failure on one is recorded in its
// result and the batch continues.
func RecoverDocument(ctx context.Context, deps RecoverDocumentDeps, in RecoverDocumentInput, opts ...RecoverDocumentOptions) (RecoverDocumentOutput, error) {
	out := RecoverDocumentOutput{DocumentID: in.Layout.DocumentID}
	if deps.DB == nil || deps.Log == nil || deps.Components == nil || deps.Engine == nil {
		return out, fmt.Errorf("recover_document: missing deps")
	}
	if deps.Notifier == nil {
		deps.Notifier = NewNopNotifier()
	}
	if in.UserID == uuid.Nil {
		return out, fmt.Errorf("recover_document: missing user_id")
	}
	if err := in.Layout.Validate(); err != nil {
		return out, fmt.Errorf("recover_document: invalid layout: %w", err)
	}

	var opt RecoverDocumentOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	concurrency := opt.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	itemTimeout := opt.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = 5 * time.Second
	}

	log := deps.Log.With("step", "RecoverDocument", "document_id", in.Layout.DocumentID.String())

	dbc := dbctx.Context{Ctx: ctx}
	docID := in.Layout.DocumentID
	entityIDs, err := deps.Components.FindEntityIDs(dbc, in.UserID,
		[]string{types.ComponentPosition, types.ComponentSpark},
		repos.MatchFilters{DocumentID: &docID})
	if err != nil {
		return out, err
	}
	if len(entityIDs) == 0 {
		deps.Notifier.RecoveryCompleted(ctx, in.UserID, docID, out.Summary)
		return out, nil
	}
	comps, err := deps.Components.GetByEntityIDs(dbc, entityIDs)
	if err != nil {
		return out, err
	}

	chunkRefs := map[uuid.UUID]*types.Component{}
	var work []*types.Component
	for _, c := range comps {
		switch c.ComponentType {
		case types.ComponentChunkRef:
			chunkRefs[c.EntityID] = c
		case types.ComponentPosition, types.ComponentSpark:
			if c.DocumentID != nil && *c.DocumentID == docID {
				work = append(work, c)
			}
		}
	}
	out.Summary.Total = len(work)
	deps.Notifier.RecoveryStarted(ctx, in.UserID, docID, len(work))
	log.Info("batch recovery started", "items", len(work))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, comp := range work {
		comp := comp
		g.Go(func() error {
			res := recoverOne(gctx, deps, in, comp, chunkRefs[comp.EntityID], itemTimeout)
			mu.Lock()
			out.Items = append(out.Items, res)
			switch {
			case res.Err != "":
				out.Summary.Failed++
			case res.Method == types.RecoveryLost:
				out.Summary.Lost++
			case res.NeedsReview:
				out.Summary.Flagged++
			default:
				out.Summary.Matched++
			}
			mu.Unlock()
			if res.Err == "" && res.NeedsReview {
				deps.Notifier.ItemFlagged(ctx, in.UserID, res.EntityID, res.Method, res.Confidence)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	log.Info("batch recovery finished",
		"matched", out.Summary.Matched,
		"flagged", out.Summary.Flagged,
		"lost", out.Summary.Lost,
		"failed", out.Summary.Failed)
	deps.Notifier.RecoveryCompleted(ctx, in.UserID, docID, out.Summary)
	return out, nil
}

// recoverOne matches and persists a single component. Matching failures
// (including the per-item timeout) demote the anchor to lost; only a
// persistence failure after one retry leaves the stored state untouched.
func recoverOne(ctx context.Context, deps RecoverDocumentDeps, in RecoverDocumentInput, comp *types.Component, chunkRef *types.Component, timeout time.Duration) ItemResult {
	item := ItemResult{
		EntityID:      comp.EntityID,
		ComponentID:   comp.ID,
		ComponentType: comp.ComponentType,
	}
	log := deps.Log.With("step", "RecoverDocument", "component_id", comp.ID.String())

	anchor, ok, decodeErr := anchorOf(comp)
	if decodeErr != nil {
		// The stored payload is unreadable and cannot be rewritten into a
		// valid state; report it instead of aborting the batch.
		log.Warn("stored anchor unreadable", "error", decodeErr.Error())
		item.Method = types.RecoveryLost
		item.NeedsReview = true
		item.Err = decodeErr.Error()
		return item
	}
	if !ok {
		// Unanchored sparks carry no document id, so the query should
		// never hand one to us; guard anyway.
		item.Err = "component has no text anchor"
		return item
	}

	mctx, cancel := context.WithTimeout(ctx, timeout)
	res, matchErr := deps.Engine.Match(mctx, anchor, in.Layout)
	cancel()
	if matchErr != nil {
		log.Warn("match aborted, marking lost", "error", matchErr.Error())
		res = match.Result{Method: types.RecoveryLost}
	}

	state := Classify(deps.Config, res, anchor.OriginalText)
	item.Method = state.RecoveryMethod
	item.Confidence = state.RecoveryConfidence
	item.NeedsReview = state.NeedsReview

	var persistErr error
	for attempt := 0; attempt < 2; attempt++ {
		persistErr = persistOutcome(ctx, deps, in.Layout, comp, chunkRef, res, state)
		if persistErr == nil {
			break
		}
	}
	if persistErr != nil {
		log.Error("persist failed, item keeps previous state", "error", persistErr.Error())
		item.Err = persistErr.Error()
	}
	return item
}

// persistOutcome writes the recovered state for one anchor, updating the
// entity's chunk_ref in the same transaction when the match relocated it.
func persistOutcome(ctx context.Context, deps RecoverDocumentDeps, layout types.ChunkLayout, comp *types.Component, chunkRef *types.Component, res match.Result, state types.RecoveryState) error {
	return deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := deps.Components.GetByID(dbc, comp.ID)
		if err != nil {
			return err
		}
		decoded, err := row.Decoded()
		if err != nil {
			return err
		}
		var data types.ComponentData
		switch d := decoded.(type) {
		case types.PositionData:
			applyToAnchor(&d.TextAnchor, layout, res, deps.Config.ContextRadius)
			d.RecoveryState = state
			data = d
		case types.SparkData:
			if d.Anchor != nil {
				applyToAnchor(d.Anchor, layout, res, deps.Config.ContextRadius)
			}
			d.RecoveryState = state
			data = d
		default:
			return fmt.Errorf("component %s is not recoverable", row.ComponentType)
		}
		if err := row.SetData(data); err != nil {
			return err
		}
		if err := deps.Components.Update(dbc, row); err != nil {
			return err
		}

		if !res.Found || chunkRef == nil || len(res.ChunkIDs) == 0 {
			return nil
		}
		refRow, err := deps.Components.GetByID(dbc, chunkRef.ID)
		if err != nil {
			return err
		}
		refDecoded, err := refRow.Decoded()
		if err != nil {
			return err
		}
		ref, ok := refDecoded.(types.ChunkRefData)
		if !ok {
			return fmt.Errorf("chunk_ref component %s has wrong payload", refRow.ID)
		}
		ref.ChunkIDs = res.ChunkIDs
		ref.PrimaryChunkID = res.PrimaryChunkID
		if err := refRow.SetData(ref); err != nil {
			return err
		}
		return deps.Components.Update(dbc, refRow)
	})
}

// applyToAnchor moves an anchor to its recovered location. Lost results
// leave the old offsets in place so the review queue can still show where
// the text used to live.
func applyToAnchor(a *types.TextAnchor, layout types.ChunkLayout, res match.Result, contextRadius int) {
	if !res.Found {
		return
	}
	a.StartOffset = res.StartOffset
	a.EndOffset = res.EndOffset
	a.TextContext = types.CaptureContext(layout.Markdown, res.StartOffset, res.EndOffset, contextRadius)
	if idx, ok := chunkIndexOf(layout, res.PrimaryChunkID); ok {
		a.OriginalChunkIndex = idx
	}
}

func anchorOf(comp *types.Component) (types.TextAnchor, bool, error) {
	decoded, err := comp.Decoded()
	if err != nil {
		return types.TextAnchor{}, false, err
	}
	switch d := decoded.(type) {
	case types.PositionData:
		return d.TextAnchor, true, nil
	case types.SparkData:
		if d.Anchor == nil {
			return types.TextAnchor{}, false, nil
		}
		return *d.Anchor, true, nil
	default:
		return types.TextAnchor{}, false, fmt.Errorf("component %s has no anchor", comp.ComponentType)
	}
}

func chunkIndexOf(layout types.ChunkLayout, chunkID string) (int, bool) {
	for _, c := range layout.Chunks {
		if c.ID == chunkID {
			return c.ChunkIndex, true
		}
	}
	return 0, false
}
