package engine

// Transition is the pure state machine: (state, event) -> (state', actions).
// It is total by exhaustive dispatch over every Event variant (spec.md
// §4.1) and never blocks or performs I/O beyond logging in its
// unreachable default arm — every property in spec.md §8 items 1-6 is
// a property of this function alone.
func Transition(state CallState, event Event) (CallState, []Action) {
	switch e := event.(type) {

	case StreamStartEvent:
		return CallState{Phase: Listening, StreamID: e.StreamID}, nil

	case StreamStopEvent:
		if state.Phase == Responding {
			return state, []Action{ResetAgentTurnAction{}}
		}
		return state, nil

	case MediaEvent:
		return state, []Action{FeedRecognizerAction{Audio: e.Audio}}

	case RecognizerEndOfTurnEvent:
		if e.Transcript != "" && state.Phase == Listening {
			next := state
			next.Phase = Responding
			return next, []Action{StartAgentTurnAction{Transcript: e.Transcript}}
		}
		return state, nil

	case RecognizerStartOfTurnEvent:
		if state.Phase == Responding {
			next := state
			next.Phase = Listening
			return next, []Action{ResetAgentTurnAction{}}
		}
		return state, nil

	case AgentTurnDoneEvent:
		if state.Phase == Responding {
			next := state
			next.Phase = Listening
			return next, nil
		}
		return state, nil

	default:
		logUnreachableEvent(event)
		return state, nil
	}
}
