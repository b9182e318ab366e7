package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Component type tags. The set is closed: every tag maps to exactly one
// payload struct and DecodeComponentData rejects anything else.
const (
	ComponentPosition = "position"
	ComponentVisual   = "visual"
	ComponentContent  = "content"
	ComponentTemporal = "temporal"
	ComponentChunkRef = "chunk_ref"
	ComponentCard     = "card"
	ComponentSpark    = "spark"
)

// RecoveryMethod records how an annotation's current offsets were obtained.
type RecoveryMethod string

const (
	RecoveryExact        RecoveryMethod = "exact"
	RecoveryContext      RecoveryMethod = "context"
	RecoveryChunkBounded RecoveryMethod = "chunk_bounded"
	RecoveryLost         RecoveryMethod = "lost"
	RecoveryManual       RecoveryMethod = "manual"
)

func (m RecoveryMethod) Valid() bool {
	switch m {
	case RecoveryExact, RecoveryContext, RecoveryChunkBounded, RecoveryLost, RecoveryManual:
		return true
	default:
		return false
	}
}

// ComponentData is the closed sum of component payloads.
type ComponentData interface {
	Type() string
	Validate() error
}

// TextContext is the surrounding text captured at annotation creation time,
// roughly 100 characters on each side. It is the anchor recovery leans on
// when exact matching fails.
type TextContext struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// CaptureContext snapshots up to radius bytes on each side of [start,end)
// so the anchor can be re-located after the document changes.
func CaptureContext(markdown string, start, end, radius int) TextContext {
	if start < 0 {
		start = 0
	}
	if start > len(markdown) {
		start = len(markdown)
	}
	if end < start {
		end = start
	}
	if end > len(markdown) {
		end = len(markdown)
	}
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(markdown) {
		hi = len(markdown)
	}
	return TextContext{Before: markdown[lo:start], After: markdown[end:hi]}
}

func (tc TextContext) Empty() bool {
	return strings.TrimSpace(tc.Before) == "" && strings.TrimSpace(tc.After) == ""
}

// TextAnchor pins a run of text inside a document's canonical markdown.
// Offsets are byte offsets into the markdown.
type TextAnchor struct {
	DocumentID         uuid.UUID   `json:"document_id"`
	StartOffset        int         `json:"start_offset"`
	EndOffset          int         `json:"end_offset"`
	OriginalText       string      `json:"original_text"`
	TextContext        TextContext `json:"text_context"`
	OriginalChunkIndex int         `json:"original_chunk_index"`
}

func (a TextAnchor) validate() error {
	if a.DocumentID == uuid.Nil {
		return fmt.Errorf("document_id required")
	}
	if a.StartOffset < 0 {
		return fmt.Errorf("start_offset must be >= 0")
	}
	if a.StartOffset >= a.EndOffset {
		return fmt.Errorf("start_offset must be < end_offset")
	}
	return nil
}

// RecoveryState tracks trust in the anchor's current offsets.
type RecoveryState struct {
	RecoveryConfidence float64        `json:"recovery_confidence"`
	RecoveryMethod     RecoveryMethod `json:"recovery_method"`
	NeedsReview        bool           `json:"needs_review"`
}

func (rs RecoveryState) validate() error {
	if rs.RecoveryConfidence < 0 || rs.RecoveryConfidence > 1 {
		return fmt.Errorf("recovery_confidence must be in [0,1]")
	}
	if !rs.RecoveryMethod.Valid() {
		return fmt.Errorf("invalid recovery_method %q", rs.RecoveryMethod)
	}
	return nil
}

// PositionData anchors an annotation to a character range of a document.
type PositionData struct {
	TextAnchor
	RecoveryState
}

func (PositionData) Type() string { return ComponentPosition }

func (p PositionData) Validate() error {
	if err := p.TextAnchor.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.OriginalText) == "" {
		return fmt.Errorf("original_text required")
	}
	return p.RecoveryState.validate()
}

// VisualData carries presentation only; no recovery implications.
type VisualData struct {
	Color string `json:"color"`
	Style string `json:"style,omitempty"`
}

func (VisualData) Type() string { return ComponentVisual }

func (v VisualData) Validate() error {
	if strings.TrimSpace(v.Color) == "" {
		return fmt.Errorf("color required")
	}
	return nil
}

// ContentData is the user's own text and tags.
type ContentData struct {
	Note string   `json:"note,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

func (ContentData) Type() string { return ComponentContent }

func (ContentData) Validate() error { return nil }

// TemporalData records user-facing timestamps, distinct from row bookkeeping.
type TemporalData struct {
	CreatedAt    time.Time  `json:"created_at"`
	LastViewedAt *time.Time `json:"last_viewed_at,omitempty"`
}

func (TemporalData) Type() string { return ComponentTemporal }

func (t TemporalData) Validate() error {
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at required")
	}
	return nil
}

// ChunkRefData is the redundant chunk pointer kept for fast chunk-scoped
// queries. Recovery must keep it consistent with Position.
type ChunkRefData struct {
	DocumentID     uuid.UUID `json:"document_id"`
	ChunkIDs       []string  `json:"chunk_ids"`
	PrimaryChunkID string    `json:"primary_chunk_id"`
}

func (ChunkRefData) Type() string { return ComponentChunkRef }

func (c ChunkRefData) Validate() error {
	if c.DocumentID == uuid.Nil {
		return fmt.Errorf("document_id required")
	}
	if len(c.ChunkIDs) == 0 {
		return fmt.Errorf("chunk_ids required")
	}
	if c.PrimaryChunkID == "" {
		return fmt.Errorf("primary_chunk_id required")
	}
	for _, id := range c.ChunkIDs {
		if id == c.PrimaryChunkID {
			return nil
		}
	}
	return fmt.Errorf("primary_chunk_id must be one of chunk_ids")
}

// CardStatus is the flashcard lifecycle: draft -> active -> suspended.
type CardStatus string

const (
	CardDraft     CardStatus = "draft"
	CardActive    CardStatus = "active"
	CardSuspended CardStatus = "suspended"
)

func (s CardStatus) Valid() bool {
	switch s {
	case CardDraft, CardActive, CardSuspended:
		return true
	default:
		return false
	}
}

// SRSState is the spaced-repetition schedule, populated once a card leaves
// draft.
type SRSState struct {
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   uint64     `json:"elapsed_days"`
	ScheduledDays uint64     `json:"scheduled_days"`
	Reps          uint64     `json:"reps"`
	Lapses        uint64     `json:"lapses"`
	State         string     `json:"state"`
	LastReview    *time.Time `json:"last_review,omitempty"`
}

// CardData is a flashcard payload.
type CardData struct {
	Question string     `json:"question"`
	Answer   string     `json:"answer"`
	CardType string     `json:"card_type,omitempty"`
	Status   CardStatus `json:"status"`
	SRS      *SRSState  `json:"srs,omitempty"`
}

func (CardData) Type() string { return ComponentCard }

func (c CardData) Validate() error {
	if strings.TrimSpace(c.Question) == "" {
		return fmt.Errorf("question required")
	}
	if strings.TrimSpace(c.Answer) == "" {
		return fmt.Errorf("answer required")
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid card status %q", c.Status)
	}
	if c.Status == CardDraft && c.SRS != nil {
		return fmt.Errorf("draft cards carry no srs state")
	}
	return nil
}

// SparkData is a captured idea. Sparks may float free or anchor to text, in
// which case they participate in recovery the same way positions do.
type SparkData struct {
	Kind   string      `json:"kind,omitempty"`
	Anchor *TextAnchor `json:"anchor,omitempty"`
	RecoveryState
}

func (SparkData) Type() string { return ComponentSpark }

func (s SparkData) Validate() error {
	if s.Anchor != nil {
		if err := s.Anchor.validate(); err != nil {
			return err
		}
		return s.RecoveryState.validate()
	}
	return nil
}

// DecodeComponentData maps a stored payload back to its typed form. Unknown
// component types are an error, never a passthrough.
func DecodeComponentData(componentType string, raw []byte) (ComponentData, error) {
	switch componentType {
	case ComponentPosition:
		var d PositionData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		return d, nil
	case ComponentVisual:
		var d VisualData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode visual: %w", err)
		}
		return d, nil
	case ComponentContent:
		var d ContentData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		return d, nil
	case ComponentTemporal:
		var d TemporalData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode temporal: %w", err)
		}
		return d, nil
	case ComponentChunkRef:
		var d ChunkRefData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode chunk_ref: %w", err)
		}
		return d, nil
	case ComponentCard:
		var d CardData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode card: %w", err)
		}
		return d, nil
	case ComponentSpark:
		var d SparkData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode spark: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown component type %q", componentType)
	}
}
