package recovery

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/data/repos"
	"github.com/rhizomelab/rhizome-backend/internal/data/repos/testutil"
	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/match"
)

type recordingNotifier struct {
	mu        sync.Mutex
	started   int
	flagged   int
	completed int
	summary   Summary
}

func (n *recordingNotifier) RecoveryStarted(_ context.Context, _, _ uuid.UUID, _ int) {
	n.mu.Lock()
	n.started++
	n.mu.Unlock()
}

func (n *recordingNotifier) ItemFlagged(_ context.Context, _, _ uuid.UUID, _ types.RecoveryMethod, _ float64) {
	n.mu.Lock()
	n.flagged++
	n.mu.Unlock()
}

func (n *recordingNotifier) RecoveryCompleted(_ context.Context, _, _ uuid.UUID, s Summary) {
	n.mu.Lock()
	n.completed++
	n.summary = s
	n.mu.Unlock()
}

type recoveryFixture struct {
	deps  RecoverDocumentDeps
	store *ecs.Store
	owner uuid.UUID
	docID uuid.UUID
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)
	cfg := match.LoadConfigFromEnv()
	return &recoveryFixture{
		deps: RecoverDocumentDeps{
			DB:         tx,
			Log:        log,
			Components: repos.NewComponentRepo(tx, log),
			Engine:     match.NewEngine(cfg, log),
			Config:     cfg,
		},
		store: ecs.NewStore(tx, log),
		owner: uuid.New(),
		docID: uuid.New(),
	}
}

func (f *recoveryFixture) layout(markdown, chunkID string) types.ChunkLayout {
	return types.ChunkLayout{
		DocumentID: f.docID,
		Markdown:   markdown,
		Chunks: []types.Chunk{
			{ID: chunkID, ChunkIndex: 0, StartOffset: 0, EndOffset: len(markdown), Content: markdown},
		},
	}
}

func (f *recoveryFixture) createAnnotation(t *testing.T, doc string, text string, chunkID string) uuid.UUID {
	t.Helper()
	start := strings.Index(doc, text)
	if start < 0 {
		t.Fatalf("anchor text not in document")
	}
	before := doc[:start]
	if len(before) > 40 {
		before = before[len(before)-40:]
	}
	after := doc[start+len(text):]
	if len(after) > 40 {
		after = after[:40]
	}
	id, err := f.store.CreateEntity(context.Background(), f.owner, []types.ComponentData{
		types.PositionData{
			TextAnchor: types.TextAnchor{
				DocumentID:   f.docID,
				StartOffset:  start,
				EndOffset:    start + len(text),
				OriginalText: text,
				TextContext:  types.TextContext{Before: before, After: after},
			},
			RecoveryState: types.RecoveryState{RecoveryConfidence: 1.0, RecoveryMethod: types.RecoveryExact},
		},
		types.ChunkRefData{DocumentID: f.docID, ChunkIDs: []string{chunkID}, PrimaryChunkID: chunkID},
	})
	if err != nil {
		t.Fatalf("create annotation: %v", err)
	}
	return id
}

func (f *recoveryFixture) positionOf(t *testing.T, entityID uuid.UUID) types.PositionData {
	t.Helper()
	entity, err := f.store.GetEntity(context.Background(), entityID, f.owner)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	decoded, err := entity.Component(types.ComponentPosition).Decoded()
	if err != nil {
		t.Fatalf("decode position: %v", err)
	}
	return decoded.(types.PositionData)
}

func (f *recoveryFixture) chunkRefOf(t *testing.T, entityID uuid.UUID) types.ChunkRefData {
	t.Helper()
	entity, err := f.store.GetEntity(context.Background(), entityID, f.owner)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	decoded, err := entity.Component(types.ComponentChunkRef).Decoded()
	if err != nil {
		t.Fatalf("decode chunk_ref: %v", err)
	}
	return decoded.(types.ChunkRefData)
}

func TestRecoverDocumentExactShift(t *testing.T) {
	f := newRecoveryFixture(t)
	oldDoc := "The quick brown fox jumps over the lazy dog."
	id := f.createAnnotation(t, oldDoc, "quick brown fox", "old-1")

	newDoc := "## Heading\n\n" + oldDoc
	notifier := &recordingNotifier{}
	f.deps.Notifier = notifier
	out, err := RecoverDocument(context.Background(), f.deps, RecoverDocumentInput{
		UserID: f.owner,
		Layout: f.layout(newDoc, "new-1"),
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Summary.Matched != 1 || out.Summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", out.Summary)
	}

	pos := f.positionOf(t, id)
	wantStart := strings.Index(newDoc, "quick brown fox")
	if pos.StartOffset != wantStart || pos.EndOffset != wantStart+len("quick brown fox") {
		t.Fatalf("expected offsets [%d,%d), got [%d,%d)", wantStart, wantStart+15, pos.StartOffset, pos.EndOffset)
	}
	if pos.RecoveryMethod != types.RecoveryExact || pos.RecoveryConfidence != 1.0 || pos.NeedsReview {
		t.Fatalf("unexpected recovery state: %+v", pos.RecoveryState)
	}

	ref := f.chunkRefOf(t, id)
	if ref.PrimaryChunkID != "new-1" {
		t.Fatalf("expected chunk_ref repointed to new-1, got %+v", ref)
	}
	if notifier.started != 1 || notifier.completed != 1 {
		t.Fatalf("expected start and completion events, got %+v", notifier)
	}
}

func TestRecoverDocumentLostKeepsOldOffsets(t *testing.T) {
	f := newRecoveryFixture(t)
	oldDoc := "Fermentation temperature control matters most during the first week."
	id := f.createAnnotation(t, oldDoc, "temperature control", "old-1")
	before := f.positionOf(t, id)

	newDoc := "This chapter was rewritten to cover bottling and aging instead."
	notifier := &recordingNotifier{}
	f.deps.Notifier = notifier
	out, err := RecoverDocument(context.Background(), f.deps, RecoverDocumentInput{
		UserID: f.owner,
		Layout: f.layout(newDoc, "new-1"),
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Summary.Lost != 1 {
		t.Fatalf("expected one lost item, got %+v", out.Summary)
	}

	pos := f.positionOf(t, id)
	if pos.RecoveryMethod != types.RecoveryLost || pos.RecoveryConfidence != 0 || !pos.NeedsReview {
		t.Fatalf("expected lost state with review flag, got %+v", pos.RecoveryState)
	}
	if pos.StartOffset != before.StartOffset || pos.EndOffset != before.EndOffset {
		t.Fatalf("lost items must keep their old offsets")
	}
	ref := f.chunkRefOf(t, id)
	if ref.PrimaryChunkID != "old-1" {
		t.Fatalf("lost items must keep their old chunk_ref, got %+v", ref)
	}
	if notifier.flagged != 1 {
		t.Fatalf("expected one flagged event, got %d", notifier.flagged)
	}
}

func TestRecoverDocumentAnchoredSpark(t *testing.T) {
	f := newRecoveryFixture(t)
	oldDoc := "An argument about emergence appears midway through the essay."
	text := "argument about emergence"
	start := strings.Index(oldDoc, text)
	id, err := f.store.CreateEntity(context.Background(), f.owner, []types.ComponentData{
		types.SparkData{
			Kind: "connection",
			Anchor: &types.TextAnchor{
				DocumentID:   f.docID,
				StartOffset:  start,
				EndOffset:    start + len(text),
				OriginalText: text,
				TextContext:  types.TextContext{Before: "An ", After: " appears midway"},
			},
			RecoveryState: types.RecoveryState{RecoveryConfidence: 1.0, RecoveryMethod: types.RecoveryExact},
		},
	})
	if err != nil {
		t.Fatalf("create spark: %v", err)
	}

	newDoc := "Preamble added. " + oldDoc
	out, err := RecoverDocument(context.Background(), f.deps, RecoverDocumentInput{
		UserID: f.owner,
		Layout: f.layout(newDoc, "new-1"),
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Summary.Matched != 1 {
		t.Fatalf("expected spark matched, got %+v", out.Summary)
	}

	entity, err := f.store.GetEntity(context.Background(), id, f.owner)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	decoded, err := entity.Component(types.ComponentSpark).Decoded()
	if err != nil {
		t.Fatalf("decode spark: %v", err)
	}
	sd := decoded.(types.SparkData)
	wantStart := strings.Index(newDoc, text)
	if sd.Anchor == nil || sd.Anchor.StartOffset != wantStart {
		t.Fatalf("expected spark anchor at %d, got %+v", wantStart, sd.Anchor)
	}
	if sd.RecoveryMethod != types.RecoveryExact {
		t.Fatalf("expected exact recovery, got %+v", sd.RecoveryState)
	}
}

func TestRecoverDocumentScopesToDocument(t *testing.T) {
	f := newRecoveryFixture(t)
	oldDoc := "Shared phrasing lives in both documents."
	id := f.createAnnotation(t, oldDoc, "Shared phrasing", "old-1")

	// Same owner, different document: its annotation must not move.
	other := &recoveryFixture{deps: f.deps, store: f.store, owner: f.owner, docID: uuid.New()}
	otherID := other.createAnnotation(t, oldDoc, "Shared phrasing", "other-1")

	newDoc := "Intro. " + oldDoc
	if _, err := RecoverDocument(context.Background(), f.deps, RecoverDocumentInput{
		UserID: f.owner,
		Layout: f.layout(newDoc, "new-1"),
	}); err != nil {
		t.Fatalf("recover: %v", err)
	}

	moved := f.positionOf(t, id)
	if moved.StartOffset != strings.Index(newDoc, "Shared phrasing") {
		t.Fatalf("expected annotation moved, got %+v", moved.TextAnchor)
	}
	untouched := other.positionOf(t, otherID)
	if untouched.StartOffset != 0 {
		t.Fatalf("annotation on another document must not move, got %+v", untouched.TextAnchor)
	}
}

func TestRecoverDocumentEmptyBatch(t *testing.T) {
	f := newRecoveryFixture(t)
	notifier := &recordingNotifier{}
	f.deps.Notifier = notifier
	out, err := RecoverDocument(context.Background(), f.deps, RecoverDocumentInput{
		UserID: f.owner,
		Layout: f.layout("No annotations here.", "c-1"),
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out.Summary.Total != 0 || notifier.completed != 1 {
		t.Fatalf("expected clean empty run, got %+v notifier=%+v", out.Summary, notifier)
	}
}

func TestClassify(t *testing.T) {
	cfg := match.LoadConfigFromEnv()
	long := "a run of text long enough to dodge the short-text bar"

	st := Classify(cfg, match.Result{Found: true, Confidence: 0.95, Method: types.RecoveryContext}, long)
	if st.NeedsReview || st.RecoveryConfidence != 0.95 {
		t.Fatalf("high confidence must pass silently, got %+v", st)
	}
	st = Classify(cfg, match.Result{Found: true, Confidence: 0.75, Method: types.RecoveryContext}, long)
	if !st.NeedsReview {
		t.Fatalf("review band must flag, got %+v", st)
	}
	st = Classify(cfg, match.Result{Found: true, Confidence: 0.87, Method: types.RecoveryExact}, "tiny")
	if !st.NeedsReview {
		t.Fatalf("short text holds the stricter bar, got %+v", st)
	}
	st = Classify(cfg, match.Result{Method: types.RecoveryLost}, long)
	if !st.NeedsReview || st.RecoveryConfidence != 0 || st.RecoveryMethod != types.RecoveryLost {
		t.Fatalf("lost must flag at zero confidence, got %+v", st)
	}
}
