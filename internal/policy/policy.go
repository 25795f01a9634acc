// Package policy decides whether a candidate fingerprint may be persisted,
// and revokes previously stored fingerprints when a duplicate upload turns
// out not to be the canonical original.
package policy

import (
	"context"
	"log/slog"
	"time"

	"trackguard/internal/faults"
	"trackguard/internal/logging"
	"trackguard/internal/remote"
	"trackguard/internal/retry"
)

// RevocationReason tags fingerprint deletions issued for duplicate content.
const RevocationReason = "ToS_violation_duplicate_content"

// Decision is the verdict for one persistence attempt. Invariant: Store and
// Violation are never both true.
type Decision struct {
	Store          bool
	IsDuplicate    bool
	IsAuthentic    bool
	DuplicateInfo  string
	DuplicateCount int
	Violation      bool
	// Degraded records that the pre-check was unreachable and the decision
	// fell open to storage.
	Degraded bool
}

// Checker is the remote surface the policy needs.
type Checker interface {
	CheckFingerprint(ctx context.Context, fingerprint, trackID string) (*remote.CheckResult, error)
	DeleteFingerprint(ctx context.Context, trackID, reason string) error
}

// Policy runs the duplicate pre-check ahead of every fingerprint write.
type Policy struct {
	checker Checker
	logger  *slog.Logger
	retry   retry.Policy
}

// New builds a Policy over the given remote checker.
func New(checker Checker, logger *slog.Logger) *Policy {
	return &Policy{
		checker: checker,
		logger:  logging.NewComponentLogger(logger, "policy"),
		retry:   retry.Policy{Attempts: 2, Delay: 500 * time.Millisecond, Multiplier: 2},
	}
}

// Decide queries the duplicate-check endpoint before anything is written.
// hadStored indicates a fingerprint was already persisted for this track by a
// prior run; on a violation that fingerprint is revoked.
//
// When the pre-check itself is unreachable the policy fails open to storage:
// availability is preferred over strict enforcement while the enforcement
// check is down. The degraded condition is logged and flagged on the
// decision.
func (p *Policy) Decide(ctx context.Context, fingerprint, trackID string, hadStored bool) (Decision, error) {
	var result *remote.CheckResult
	err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		var checkErr error
		result, checkErr = p.checker.CheckFingerprint(ctx, fingerprint, trackID)
		return checkErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		logging.WarnWithContext(p.logger, "duplicate pre-check unreachable, failing open to storage", "precheck_degraded",
			logging.String(logging.FieldTrackID, trackID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "duplicate content could be stored while the check is down"))
		return Decision{Store: true, Degraded: true}, nil
	}

	if !result.IsDuplicate {
		return Decision{Store: true}, nil
	}

	if result.IsAuthentic {
		// This track is the canonical original among the matches.
		return Decision{
			Store:          true,
			IsDuplicate:    true,
			IsAuthentic:    true,
			DuplicateInfo:  result.DuplicateInfo,
			DuplicateCount: result.DuplicateCount,
		}, nil
	}

	decision := Decision{
		IsDuplicate:    true,
		DuplicateInfo:  result.DuplicateInfo,
		DuplicateCount: result.DuplicateCount,
		Violation:      true,
	}

	if hadStored {
		if err := p.checker.DeleteFingerprint(ctx, trackID, RevocationReason); err != nil {
			// The violation stands either way; revocation is retried on the
			// next attempt for this track.
			p.logger.Error("failed to revoke stored fingerprint",
				logging.String(logging.FieldTrackID, trackID),
				logging.Error(err))
		} else {
			p.logger.Info("revoked stored fingerprint",
				logging.String(logging.FieldTrackID, trackID),
				logging.String("reason", RevocationReason))
		}
	}

	return decision, nil
}

// Err converts a violating decision into its typed error for callers that
// surface it.
func (d Decision) Err() error {
	if !d.Violation {
		return nil
	}
	return faults.Wrap(faults.ErrToSViolation, "policy", "decide", "duplicate content is not authentic", nil)
}
