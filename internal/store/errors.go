package store

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrScheduleClosed      = errors.New("schedule is not accepting tokens")
	ErrCapacityExceeded    = errors.New("schedule capacity exceeded")
	ErrQueueBusy           = errors.New("another token is currently consulting")
	ErrInvalidTransition   = errors.New("transition not allowed from current state")
	ErrAccessDenied        = errors.New("access denied")
	ErrSessionNotFound     = errors.New("session not found")
	ErrTransient           = errors.New("transient storage failure")
)

// CapacityError carries the occupancy that caused an allocation to be
// rejected so callers can render "N of M tokens taken".
type CapacityError struct {
	Count int
	Max   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("schedule capacity exceeded: %d of %d tokens allocated", e.Count, e.Max)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// QueueBusyError reports which token holds the queue when a start or
// resume is rejected.
type QueueBusyError struct {
	CurrentToken int
}

func (e *QueueBusyError) Error() string {
	return fmt.Sprintf("token %d is currently consulting", e.CurrentToken)
}

func (e *QueueBusyError) Is(target error) bool { return target == ErrQueueBusy }

// TransitionError names both sides of a rejected transition.
type TransitionError struct {
	Current   string
	Requested string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment in state %q", e.Requested, e.Current)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
