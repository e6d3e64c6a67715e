package models

import "slices"

// State is the conversation record carried into one workflow invocation.
// Messages is append-only across turns; CurrentMessage is the turn's input.
type State struct {
	Messages       []Message `json:"messages"`
	CurrentMessage string    `json:"current_message"`
}

// Delta is what a workflow invocation returns: the full updated transcript.
type Delta struct {
	Messages []Message `json:"messages"`
}

// Apply folds a delta into the state and clears the per-turn input.
func (s *State) Apply(d *Delta) {
	if d == nil {
		return
	}
	s.Messages = slices.Clone(d.Messages)
	s.CurrentMessage = ""
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	return &State{Messages: slices.Clone(s.Messages), CurrentMessage: s.CurrentMessage}
}
