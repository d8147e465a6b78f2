package chatmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendDoesNotMutateOriginal(t *testing.T) {
	base := Conversation{{Role: RoleUser, Content: "hi"}}
	extended := base.Append(Message{Role: RoleAssistant, Author: "bot", Content: "hello"})

	assert.Len(t, base, 1)
	assert.Len(t, extended, 2)
	assert.Equal(t, "hello", extended[1].Content)
}

func TestLastFromFindsMostRecentMatchingAuthor(t *testing.T) {
	conv := Conversation{
		{Role: RoleAssistant, Author: "bot-a", Content: "first"},
		{Role: RoleAssistant, Author: "bot-b", Content: "second"},
		{Role: RoleAssistant, Author: "bot-a", Content: "third"},
	}

	msg, ok := conv.LastFrom("bot-a")
	assert.True(t, ok)
	assert.Equal(t, "third", msg.Content)
}

func TestLastFromMissingAuthorReturnsFalse(t *testing.T) {
	conv := Conversation{{Role: RoleUser, Content: "hi"}}
	_, ok := conv.LastFrom("nobody")
	assert.False(t, ok)
}
