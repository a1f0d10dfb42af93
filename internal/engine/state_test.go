package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaAlwaysFeedsRecognizerAndLeavesStateUnchanged(t *testing.T) {
	for _, phase := range []Phase{Listening, Responding} {
		state := CallState{Phase: phase, StreamID: "s1"}
		audio := []byte{1, 2, 3}

		next, actions := Transition(state, MediaEvent{Audio: audio})

		assert.Equal(t, state, next)
		assert.Equal(t, []Action{FeedRecognizerAction{Audio: audio}}, actions)
	}
}

func TestStreamStartAlwaysResetsToListening(t *testing.T) {
	for _, prior := range []CallState{
		{Phase: Listening, StreamID: "old"},
		{Phase: Responding, StreamID: "old"},
	} {
		next, actions := Transition(prior, StreamStartEvent{StreamID: "new"})

		assert.Equal(t, CallState{Phase: Listening, StreamID: "new"}, next)
		assert.Nil(t, actions)
	}
}

func TestStartAgentTurnOnlyOnNonEmptyTranscriptWhileListening(t *testing.T) {
	listening := CallState{Phase: Listening, StreamID: "s1"}
	responding := CallState{Phase: Responding, StreamID: "s1"}

	next, actions := Transition(listening, RecognizerEndOfTurnEvent{Transcript: "hello"})
	assert.Equal(t, Responding, next.Phase)
	assert.Equal(t, []Action{StartAgentTurnAction{Transcript: "hello"}}, actions)

	next, actions = Transition(listening, RecognizerEndOfTurnEvent{Transcript: ""})
	assert.Equal(t, listening, next)
	assert.Nil(t, actions)

	next, actions = Transition(responding, RecognizerEndOfTurnEvent{Transcript: "hello"})
	assert.Equal(t, responding, next)
	assert.Nil(t, actions)
}

func TestResetAgentTurnOnBargeInOrStreamStopWhileResponding(t *testing.T) {
	responding := CallState{Phase: Responding, StreamID: "s1"}
	listening := CallState{Phase: Listening, StreamID: "s1"}

	next, actions := Transition(responding, RecognizerStartOfTurnEvent{})
	assert.Equal(t, Listening, next.Phase)
	assert.Equal(t, []Action{ResetAgentTurnAction{}}, actions)

	next, actions = Transition(responding, StreamStopEvent{})
	assert.Equal(t, responding.Phase, next.Phase)
	assert.Equal(t, []Action{ResetAgentTurnAction{}}, actions)

	next, actions = Transition(listening, RecognizerStartOfTurnEvent{})
	assert.Equal(t, listening, next)
	assert.Nil(t, actions)

	next, actions = Transition(listening, StreamStopEvent{})
	assert.Equal(t, listening, next)
	assert.Nil(t, actions)
}

func TestPhaseAlternatesStrictly(t *testing.T) {
	state := CallState{Phase: Listening, StreamID: "s1"}

	state, _ = Transition(state, RecognizerEndOfTurnEvent{Transcript: "hi"})
	assert.Equal(t, Responding, state.Phase)

	state, _ = Transition(state, AgentTurnDoneEvent{})
	assert.Equal(t, Listening, state.Phase)

	state, _ = Transition(state, RecognizerEndOfTurnEvent{Transcript: "again"})
	assert.Equal(t, Responding, state.Phase)

	state, _ = Transition(state, RecognizerStartOfTurnEvent{})
	assert.Equal(t, Listening, state.Phase)
}

func TestAgentTurnDoneIsIdempotentOutsideResponding(t *testing.T) {
	listening := CallState{Phase: Listening, StreamID: "s1"}

	next, actions := Transition(listening, AgentTurnDoneEvent{})

	assert.Equal(t, listening, next)
	assert.Nil(t, actions)
}

func TestTransitionIsPure(t *testing.T) {
	state := CallState{Phase: Listening, StreamID: "s1"}
	event := RecognizerEndOfTurnEvent{Transcript: "hello"}

	first, firstActions := Transition(state, event)
	second, secondActions := Transition(state, event)

	assert.Equal(t, first, second)
	assert.Equal(t, firstActions, secondActions)
}
