package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go-foodie/internal/chat"
	"go-foodie/internal/inbox"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	req := require.New(t)
	req.Equal("short", preview("short"))
	req.Equal("two lines", preview("two\nlines"))

	long := preview(strings.Repeat("é", 60))
	req.Len([]rune(long), previewLen)
	req.True(strings.HasSuffix(long, "…"))
}

func TestRenderConversations(t *testing.T) {
	req := require.New(t)
	conv, other := uuid.New(), uuid.New()
	at := time.Now()

	var buf bytes.Buffer
	renderConversations(&buf, inbox.View{
		Conversations: []inbox.ConversationView{{
			Conversation: chat.Conversation{ID: conv},
			Participants: []chat.Participant{{UserID: other}},
			LastMessage:  &chat.Message{Content: "see you at noon", CreatedAt: at},
			UnreadCount:  2,
		}},
		TotalUnread: 2,
	})

	out := buf.String()
	req.Contains(out, conv.String())
	req.Contains(out, shortID(other))
	req.Contains(out, "see you at noon")
	req.Contains(out, "2 unread")
}
