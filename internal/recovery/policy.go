package recovery

import (
	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/match"
)

// Classify turns a raw match result into the recovery state to persist.
// The mapping lives here rather than in the matcher: matches at or above
// the accept bar pass silently, matches in the review band are kept but
// flagged, and anything the engine reported lost is flagged with zero
// confidence so it surfaces in the review queue.
func Classify(cfg match.Config, res match.Result, originalText string) types.RecoveryState {
	if !res.Found || res.Method == types.RecoveryLost {
		return types.RecoveryState{
			RecoveryConfidence: 0,
			RecoveryMethod:     types.RecoveryLost,
			NeedsReview:        true,
		}
	}
	return types.RecoveryState{
		RecoveryConfidence: res.Confidence,
		RecoveryMethod:     res.Method,
		NeedsReview:        res.Confidence < cfg.AcceptBar(originalText),
	}
}
