package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Assistant ")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	_, err = ParseRole("system")
	assert.ErrorIs(t, err, ErrUnknownRole)
	_, err = ParseRole("tool")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewMessageRejectsUnknownRole(t *testing.T) {
	msg, err := NewMessage(RoleUser, "hi")
	require.NoError(t, err)
	assert.Equal(t, UserMessage("hi"), msg)

	_, err = NewMessage(Role("narrator"), "once upon a time")
	assert.True(t, errors.Is(err, ErrUnknownRole))
}

func TestDecodedMessagesKeepRawRole(t *testing.T) {
	var st State
	raw := `{"messages":[{"role":"user","content":"a"},{"role":"tool","content":"b"}],"current_message":"c"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	require.Len(t, st.Messages, 2)
	assert.Equal(t, Role("tool"), st.Messages[1].Role)
	assert.False(t, st.Messages[1].Role.Valid())
}

func TestStateApplyAndClone(t *testing.T) {
	st := &State{Messages: []Message{UserMessage("a")}, CurrentMessage: "b"}
	cl := st.Clone()
	cl.Messages[0].Content = "changed"
	assert.Equal(t, "a", st.Messages[0].Content)

	delta := &Delta{Messages: []Message{UserMessage("a"), UserMessage("b"), AssistantMessage("c")}}
	st.Apply(delta)
	assert.Len(t, st.Messages, 3)
	assert.Empty(t, st.CurrentMessage)

	delta.Messages[2].Content = "mutated"
	assert.Equal(t, "c", st.Messages[2].Content)

	st.Apply(nil)
	assert.Len(t, st.Messages, 3)
}

func TestErrorRow(t *testing.T) {
	rows := []Row{ErrorRow(errors.New("no such table: nope"))}
	assert.True(t, IsErrorRow(rows))
	assert.Equal(t, "no such table: nope", rows[0]["error"])

	assert.False(t, IsErrorRow([]Row{{"id": int64(1)}}))
	assert.False(t, IsErrorRow(nil))
}
