package engine

import "github.com/yourusername/voice-call-engine/internal/logger"

// logUnreachableEvent is the default arm of the event switch in
// Transition (state.go). Every constructor of Event is handled there;
// reaching here means a new variant was added to types.go without a
// matching case in Transition.
func logUnreachableEvent(event Event) {
	logger.WithComponent("engine").Error().
		Interface("event", event).
		Msg("unreachable event kind in transition")
}

// logUnreachableAction is the default arm of the action dispatch switch
// in loop.go, kept alongside for symmetry.
func logUnreachableAction(action Action) {
	logger.WithComponent("engine").Error().
		Interface("action", action).
		Msg("unreachable action kind in dispatch")
}
