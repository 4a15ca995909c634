package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

func TestInboxProjectsLastMessagePerConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resolver.names["u2"] = "Ada Vendor"

	c1 := e.mustCreate(t, "u1", "First", domain.ConversationDirect, "u2")
	c2 := e.mustCreate(t, "u1", "Second", domain.ConversationDirect, "u2")

	_, err := e.log.Append(ctx, c1.ID, "u2", "latest in c1", domain.MessageText, nil)
	require.NoError(t, err)

	out, err := e.inbox.Project(ctx, []string{c1.ID, c2.ID})
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.False(t, out[c1.ID].Empty)
	require.Equal(t, "latest in c1", out[c1.ID].Preview)
	require.Equal(t, "Ada Vendor", out[c1.ID].SenderName)

	// c2 only holds its system message
	require.Equal(t, domain.MessageSystem, out[c2.ID].Kind)
	require.Equal(t, domain.SystemSender, out[c2.ID].SenderID)

	// one batched resolver call for the whole projection
	require.Equal(t, 1, e.resolver.calls)
}

func TestInboxProjectsEmptyPlaceholderForMessagelessConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// conversation written directly, bypassing the directory saga
	conv := &domain.Conversation{ID: "bare", Title: "Bare", Kind: domain.ConversationGroup}
	require.NoError(t, e.mem.Conversations().Insert(ctx, conv))

	out, err := e.inbox.Project(ctx, []string{"bare"})
	require.NoError(t, err)
	require.True(t, out["bare"].Empty)
}

func TestInboxFallsBackToRawIDWhenResolverFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resolver.err = errors.New("directory down")

	conv := e.mustCreate(t, "u1", "First", domain.ConversationDirect, "u2")
	_, err := e.log.Append(ctx, conv.ID, "u2", "hello", domain.MessageText, nil)
	require.NoError(t, err)

	out, err := e.inbox.Project(ctx, []string{conv.ID})
	require.NoError(t, err)
	require.Equal(t, "u2", out[conv.ID].SenderName)
}

func TestInboxTruncatesLongPreviews(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	conv := e.mustCreate(t, "u1", "First", domain.ConversationDirect, "u2")
	long := strings.Repeat("x", previewLimit*2)
	_, err := e.log.Append(ctx, conv.ID, "u2", long, domain.MessageText, nil)
	require.NoError(t, err)

	out, err := e.inbox.Project(ctx, []string{conv.ID})
	require.NoError(t, err)
	require.Len(t, out[conv.ID].Preview, previewLimit)
}

func TestInboxPreviewTruncatesOnRuneBoundary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	conv := e.mustCreate(t, "u1", "First", domain.ConversationDirect, "u2")
	// the limit falls mid-rune in this content
	long := "a" + strings.Repeat("日", 60)
	_, err := e.log.Append(ctx, conv.ID, "u2", long, domain.MessageText, nil)
	require.NoError(t, err)

	out, err := e.inbox.Project(ctx, []string{conv.ID})
	require.NoError(t, err)
	p := out[conv.ID].Preview
	require.True(t, utf8.ValidString(p))
	require.LessOrEqual(t, len(p), previewLimit)
	require.NotEmpty(t, p)
}
