package store

import "clinicq/queue-service/internal/models"

const (
	ActionStart    = "start"
	ActionResume   = "resume"
	ActionComplete = "complete"
	ActionHold     = "hold"
	ActionPause    = "pause"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionStart:    {models.StatusScheduled, models.StatusHold, models.StatusPause},
	ActionResume:   {models.StatusHold, models.StatusPause},
	ActionComplete: {models.StatusTokenStarted, models.StatusInProgress},
	ActionHold:     {models.StatusTokenStarted, models.StatusInProgress},
	ActionPause:    {models.StatusTokenStarted, models.StatusInProgress},
	ActionCancel:   {models.StatusScheduled, models.StatusTokenStarted, models.StatusInProgress},
}

var targetStatus = map[string]string{
	ActionStart:    models.StatusTokenStarted,
	ActionResume:   models.StatusTokenStarted,
	ActionComplete: models.StatusCompleted,
	ActionHold:     models.StatusHold,
	ActionPause:    models.StatusPause,
	ActionCancel:   models.StatusCancelled,
}

func KnownAction(action string) bool {
	_, ok := transitionMap[action]
	return ok
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an action moves an appointment into.
func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}
