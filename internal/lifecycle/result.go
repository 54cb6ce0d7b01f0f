package lifecycle

import (
	"laundry-branch-backend/internal/model"
)

// Outcome is the structured result code of a mutating call.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeQueued   Outcome = "queued"
	OutcomeRejected Outcome = "rejected"
)

// Reason explains a rejected outcome.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonIllegalTransition Reason = "illegal_transition"
	ReasonAlreadyCompleted  Reason = "already_completed"
	ReasonTransactionClosed Reason = "transaction_closed"
	ReasonNoCapacity        Reason = "no_capacity"
	ReasonNotQueueHead      Reason = "not_queue_head"
	ReasonMachineNotBroken  Reason = "machine_not_broken"
	ReasonMachineInUse      Reason = "machine_in_use"
	ReasonPendingServices   Reason = "pending_services"
	ReasonInvalidRequest    Reason = "invalid_request"
)

// Result carries the new state of a mutating call. Capacity and policy
// outcomes are reported here; only infrastructure faults are errors.
type Result struct {
	Outcome     Outcome                  `json:"outcome"`
	Reason      Reason                   `json:"reason"`
	Message     string                   `json:"message,omitempty"`
	Assignment  *model.ServiceAssignment `json:"assignment"`
	Transaction *model.Transaction       `json:"transaction,omitempty"`
	Machine     *model.Machine           `json:"machine,omitempty"`
	Total       *int64                   `json:"total"`
}

// Rejected reports whether the call was refused.
func (r Result) Rejected() bool {
	return r.Outcome == OutcomeRejected
}

func rejected(reason Reason, message string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason, Message: message}
}

// Trigger records why an assignment was completed or released.
type Trigger string

const (
	TriggerDeadline  Trigger = "deadline"
	TriggerManual    Trigger = "manual"
	TriggerForced    Trigger = "forced"
	TriggerCancel    Trigger = "cancelled"
	TriggerBroken    Trigger = "machine_broken"
	TriggerReconcile Trigger = "reconcile"
)
