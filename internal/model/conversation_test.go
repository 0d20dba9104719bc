package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversation_AppendKeepsModifiedAtMonotonic(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	conv := NewConversation("5215512345678", t0)

	conv.Append(Message{Role: RoleUser, Content: "hola", Timestamp: t0.Add(time.Minute)})
	assert.Equal(t, t0.Add(time.Minute), conv.ModifiedAt)

	// A skewed clock must not move ModifiedAt backwards.
	conv.Append(Message{Role: RoleAssistant, Content: "hi", Timestamp: t0})
	assert.Equal(t, t0.Add(time.Minute), conv.ModifiedAt)
	assert.Equal(t, 2, conv.Len())
	assert.Equal(t, t0, conv.CreatedAt)
}

func TestConversation_Last(t *testing.T) {
	conv := NewConversation("k", time.Now())
	for i := 0; i < 5; i++ {
		conv.Append(Message{Role: RoleUser, Content: string(rune('a' + i))})
	}

	assert.Len(t, conv.Last(9), 5)
	last := conv.Last(2)
	assert.Equal(t, "d", last[0].Content)
	assert.Equal(t, "e", last[1].Content)
	assert.Nil(t, conv.Last(0))

	var nilConv *Conversation
	assert.Nil(t, nilConv.Last(3))
	assert.Equal(t, 0, nilConv.Len())
}

func TestConversation_CloneDoesNotAlias(t *testing.T) {
	conv := NewConversation("k", time.Now())
	conv.Append(Message{Role: RoleUser, Content: "one"})

	cp := conv.Clone()
	cp.Append(Message{Role: RoleAssistant, Content: "two"})
	cp.Messages[0].Content = "changed"

	assert.Equal(t, 1, conv.Len())
	assert.Equal(t, "one", conv.Messages[0].Content)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
}

func TestConversation_ValidateRejectsUnknownRole(t *testing.T) {
	conv := NewConversation("k", time.Now())
	conv.Append(Message{Role: RoleAssistant, Content: "hola"})
	conv.Append(Message{Role: RoleUser, Content: "hi"})
	assert.NoError(t, conv.Validate())

	conv.Append(Message{Role: "function", Content: "{}"})
	err := conv.Validate()
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.ErrorContains(t, err, "index 2")
}
