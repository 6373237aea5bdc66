package job

import (
	"fmt"

	"github.com/leaseq/leaseq"
)

// validTransitions is the job state machine. Completed, dead, and
// cancelled are terminal. Processing may loop back to pending on retry
// or lease-expiry recovery.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusPending, StatusFailed, StatusDead, StatusCancelled},
	StatusFailed:     {StatusPending, StatusDead},
	StatusCompleted:  nil,
	StatusDead:       nil,
	StatusCancelled:  nil,
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the given status, rejecting anything the
// state machine does not allow. Re-entering pending clears the lease
// fields so the job is immediately leasable again.
func (j *Job) Transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s → %s for job %s",
			leaseq.ErrInvalidTransition, j.Status, to, j.ID)
	}

	j.Status = to
	if to == StatusPending {
		j.ClearLease()
	}
	return nil
}
