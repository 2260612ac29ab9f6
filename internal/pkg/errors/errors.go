package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrContractViolation marks a panel whose content conflicts with the
	// design contract. Recoverable through auto-repair until the retry
	// budget runs out.
	ErrContractViolation = errors.New("contract violation")
	// ErrBlankPanel marks a generation that produced a blank or
	// near-blank image.
	ErrBlankPanel = errors.New("blank panel")
	// ErrControlMismatch marks a panel that diverged from its control
	// image beyond tolerance.
	ErrControlMismatch = errors.New("control image mismatch")
	// ErrFacadeDrift marks an elevation that diverged from the canonical
	// elevation control.
	ErrFacadeDrift = errors.New("facade drift")
	// ErrRetryBudgetExhausted is terminal for a generation run.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrBaselineMissing means a modification was requested before any
	// baseline was published.
	ErrBaselineMissing = errors.New("baseline missing")
	// ErrLockContention means a generation run is already in flight for
	// the design. Rejected immediately, never queued.
	ErrLockContention = errors.New("generation already in flight")
)
