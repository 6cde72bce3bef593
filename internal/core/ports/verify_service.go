package ports

import (
	"context"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// VerifyOutcome is the terminal state a verification transaction reached.
type VerifyOutcome string

const (
	VerifyIgnored   VerifyOutcome = "ignored"
	VerifyNotNeeded VerifyOutcome = "not_needed"
	VerifySucceeded VerifyOutcome = "succeeded"
	VerifyFailed    VerifyOutcome = "failed"
)

// VerifyResult reports how one verify command ended.
type VerifyResult struct {
	TxnID   string
	Outcome VerifyOutcome
	// CleanupErr is set when the role swap succeeded but artifact cleanup
	// did not fully complete. It wraps domain.ErrPartialCleanup.
	CleanupErr error
}

// VerifyService runs the user-triggered verification command.
type VerifyService interface {
	Handle(ctx context.Context, msg domain.Message) (VerifyResult, error)
	// Wait blocks until every delayed confirmation deletion has run.
	Wait()
}
