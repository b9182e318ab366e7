package recovery

import (
	"context"

	"github.com/google/uuid"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
)

// Notifier receives recovery lifecycle events. Implementations must not
// block; a slow or failing notifier never affects recovery itself.
type Notifier interface {
	RecoveryStarted(ctx context.Context, userID, documentID uuid.UUID, itemCount int)
	ItemFlagged(ctx context.Context, userID, entityID uuid.UUID, method types.RecoveryMethod, confidence float64)
	RecoveryCompleted(ctx context.Context, userID, documentID uuid.UUID, summary Summary)
}

// Summary is the aggregate outcome of one batch recovery run.
type Summary struct {
	Total   int `json:"total"`
	Matched int `json:"matched"`
	Flagged int `json:"flagged"`
	Lost    int `json:"lost"`
	Failed  int `json:"failed"`
}

type nopNotifier struct{}

func NewNopNotifier() Notifier { return nopNotifier{} }

func (nopNotifier) RecoveryStarted(context.Context, uuid.UUID, uuid.UUID, int) {}
func (nopNotifier) ItemFlagged(context.Context, uuid.UUID, uuid.UUID, types.RecoveryMethod, float64) {
}
func (nopNotifier) RecoveryCompleted(context.Context, uuid.UUID, uuid.UUID, Summary) {}
