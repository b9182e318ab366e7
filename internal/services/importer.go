package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/match"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
	"github.com/rhizomelab/rhizome-backend/internal/recovery"
)

// HighlightRecord is one external highlight to import. Location is the
// reader's rough position as a fraction of the document in [0,1], or
// negative when the source format carries no location at all.
type HighlightRecord struct {
	Text     string   `json:"text"`
	Note     string   `json:"note,omitempty"`
	Color    string   `json:"color,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Location float64  `json:"location"`
}

// ImportResult reports what happened to one record, index-aligned with the
// input slice.
type ImportResult struct {
	Index       int                  `json:"index"`
	EntityID    uuid.UUID            `json:"entity_id,omitempty"`
	Method      types.RecoveryMethod `json:"method"`
	Confidence  float64              `json:"confidence"`
	NeedsReview bool                 `json:"needs_review"`
	Err         string               `json:"error,omitempty"`
}

type ImportService interface {
	// ImportHighlights anchors external highlights into a document. An
	// import is recovery with no captured context: the exact tier runs
	// first, then a chunk-bounded search near the location estimate, and
	// records that cannot be placed land in the review queue as lost.
	ImportHighlights(ctx context.Context, ownerID uuid.UUID, layout types.ChunkLayout, records []HighlightRecord) ([]ImportResult, error)
}

type importService struct {
	store  *ecs.Store
	log    *logger.Logger
	engine *match.Engine
	cfg    match.Config
}

func NewImportService(store *ecs.Store, baseLog *logger.Logger, engine *match.Engine, cfg match.Config) ImportService {
	return &importService{
		store:  store,
		log:    baseLog.With("service", "ImportService"),
		engine: engine,
		cfg:    cfg,
	}
}

func (s *importService) ImportHighlights(ctx context.Context, ownerID uuid.UUID, layout types.ChunkLayout, records []HighlightRecord) ([]ImportResult, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	results := make([]ImportResult, len(records))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			res := s.importOne(gctx, ownerID, layout, i, rec)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *importService) importOne(ctx context.Context, ownerID uuid.UUID, layout types.ChunkLayout, index int, rec HighlightRecord) ImportResult {
	out := ImportResult{Index: index}
	if strings.TrimSpace(rec.Text) == "" {
		out.Err = "empty highlight text"
		return out
	}

	estStart, estIdx := s.estimate(layout, rec.Location)
	anchor := types.TextAnchor{
		DocumentID:         layout.DocumentID,
		StartOffset:        estStart,
		EndOffset:          estStart + len(rec.Text),
		OriginalText:       rec.Text,
		OriginalChunkIndex: estIdx,
	}

	mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	res, err := s.engine.Match(mctx, anchor, layout)
	cancel()
	if err != nil {
		s.log.Warn("import match aborted", "index", index, "error", err.Error())
		res = match.Result{Method: types.RecoveryLost}
	}
	state := recovery.Classify(s.cfg, res, rec.Text)

	// Lost records still become annotations, parked at the location
	// estimate so the review queue has something to show.
	start, end := res.StartOffset, res.EndOffset
	chunkIDs, primary := res.ChunkIDs, res.PrimaryChunkID
	if !res.Found {
		start = estStart
		end = estStart + len(rec.Text)
		if end > len(layout.Markdown) {
			end = len(layout.Markdown)
			start = end - len(rec.Text)
			if start < 0 {
				start = 0
			}
		}
		if ch := layout.ChunkAt(estIdx); ch != nil {
			chunkIDs = []string{ch.ID}
			primary = ch.ID
		}
	} else {
		anchor.TextContext = types.CaptureContext(layout.Markdown, start, end, s.cfg.ContextRadius)
	}
	anchor.StartOffset = start
	anchor.EndOffset = end
	if idx := chunkIndexOf(layout, primary); idx >= 0 {
		anchor.OriginalChunkIndex = idx
	}

	color := rec.Color
	if color == "" {
		color = "yellow"
	}
	components := []types.ComponentData{
		types.PositionData{TextAnchor: anchor, RecoveryState: state},
		types.VisualData{Color: color},
		types.ContentData{Note: rec.Note, Tags: rec.Tags},
		types.TemporalData{CreatedAt: time.Now().UTC()},
	}
	if len(chunkIDs) > 0 && primary != "" {
		components = append(components, types.ChunkRefData{
			DocumentID:     layout.DocumentID,
			ChunkIDs:       chunkIDs,
			PrimaryChunkID: primary,
		})
	}

	id, err := s.store.CreateEntity(ctx, ownerID, components)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	out.EntityID = id
	out.Method = state.RecoveryMethod
	out.Confidence = state.RecoveryConfidence
	out.NeedsReview = state.NeedsReview
	return out
}

// estimate converts a location fraction into a starting offset and chunk
// index. Unknown locations start the search at the document head.
func (s *importService) estimate(layout types.ChunkLayout, location float64) (int, int) {
	if location < 0 || location > 1 || len(layout.Chunks) == 0 {
		return 0, 0
	}
	start := int(location * float64(len(layout.Markdown)))
	if start >= len(layout.Markdown) {
		start = len(layout.Markdown) - 1
	}
	idx := int(location * float64(len(layout.Chunks)))
	if idx >= len(layout.Chunks) {
		idx = len(layout.Chunks) - 1
	}
	return start, idx
}

func chunkIndexOf(layout types.ChunkLayout, chunkID string) int {
	for _, c := range layout.Chunks {
		if c.ID == chunkID {
			return c.ChunkIndex
		}
	}
	return -1
}
