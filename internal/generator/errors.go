package generator

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds is returned when a planned spend cannot be covered
// by the owning tier and refunding from the default wallet also failed.
var ErrInsufficientFunds = errors.New("insufficient funds")

// StepError reports which generation step failed, and for which tier.
// Any backend failure is fatal to the run; there is no partial resume.
type StepError struct {
	Step string // e.g. "create wallet", "broadcast", "mine", "export"
	Tier string // empty when the step is not tier-specific
	Err  error
}

func (e *StepError) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("generation failed at %s (tier %s): %v", e.Step, e.Tier, e.Err)
	}
	return fmt.Sprintf("generation failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepError(step, tier string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Tier: tier, Err: err}
}
