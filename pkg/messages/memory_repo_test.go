package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatcore/pkg/apperrors"
	"chatcore/pkg/logger"

	"github.com/stretchr/testify/require"
)

func newMemoryService(t *testing.T) (*messageService, *time.Time) {
	t.Helper()
	svc := NewMessageService(NewMemoryMessageRepository(), nil, logger.Nop(), ServiceConfig{}).(*messageService)
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, &clock
}

func TestMemory_SendEditDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)

	m, err := svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "bob", Body: "hi"})
	require.NoError(t, err)
	require.Equal(t, int64(1), m.ID)
	require.Equal(t, int64(1), m.Version)

	edited, err := svc.Edit(ctx, m.ID, "alice", "hi there")
	require.NoError(t, err)
	require.Equal(t, "hi there", edited.Body)
	require.NotNil(t, edited.ModifiedAt)
	require.Equal(t, int64(2), edited.Version)

	deleted, err := svc.Delete(ctx, m.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, StateDeleted, deleted.State)
	require.Empty(t, deleted.Body)
	require.NotNil(t, deleted.DeletedAt)
	require.Equal(t, "alice", deleted.DeletedBy)

	_, err = svc.GetByID(ctx, m.ID)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = svc.Edit(ctx, m.ID, "alice", "again")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = svc.Delete(ctx, m.ID, "alice")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	conv, err := svc.GetConversation(ctx, "alice", "bob", 0, 0)
	require.NoError(t, err)
	require.Empty(t, conv.Items)

	gone, err := svc.GetDeleted(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, gone.Items, 1)
}

func TestMemory_ConversationBothDirectionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)

	_, err := svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "bob", Body: "one"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendRequest{Sender: "bob", Recipient: "alice", Body: "two"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "carol", Body: "other"})
	require.NoError(t, err)

	conv, err := svc.GetConversation(ctx, "bob", "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, conv.Items, 2)
	require.Equal(t, "two", conv.Items[0].Body)
	require.Equal(t, "one", conv.Items[1].Body)
	require.Equal(t, int64(2), conv.TotalElements)

	page, err := svc.GetConversation(ctx, "alice", "bob", 1, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "one", page.Items[0].Body)
	require.False(t, page.HasMore)
}

func TestMemory_MarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)

	m, err := svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "bob", Body: "read me"})
	require.NoError(t, err)

	first, err := svc.MarkRead(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRead, first.Status)

	second, err := svc.MarkRead(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = svc.MarkRead(ctx, 999)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestMemory_ParentLinking(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)

	parent, err := svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "bob", Body: "question"})
	require.NoError(t, err)

	reply, err := svc.Send(ctx, SendRequest{Sender: "bob", Recipient: "alice", Body: "answer", ParentID: &parent.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	require.Equal(t, parent.ID, *reply.ParentID)

	missing := int64(77)
	orphan, err := svc.Send(ctx, SendRequest{Sender: "bob", Recipient: "alice", Body: "lost", ParentID: &missing})
	require.NoError(t, err)
	require.Nil(t, orphan.ParentID)

	dto := ToPageDTO(ctx, Page{Items: []Message{reply}}, svc.GetByID)
	require.NotNil(t, dto.Items[0].ParentMessage)
	require.Equal(t, "question", dto.Items[0].ParentMessage.Message)
	require.Equal(t, "alice_bob", dto.Items[0].RoomID)
}

func TestMemory_SearchAndStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)

	_, err := svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "bob", Body: "Quarterly REPORT", Subject: "Q1", Priority: "HIGH"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendRequest{Sender: "bob", Recipient: "alice", Body: "report received"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendRequest{Sender: "carol", Recipient: "bob", Body: "lunch?", Priority: "urgent"})
	require.NoError(t, err)

	p, err := svc.Search(ctx, SearchCriteria{Query: "report"})
	require.NoError(t, err)
	require.Len(t, p.Items, 2)

	p, err = svc.Search(ctx, SearchCriteria{Query: "report", Sender: "alice", Priority: "high"})
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	require.Equal(t, "Q1", p.Items[0].Subject)

	st, err := svc.Stats(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, Stats{Sent: 1, Received: 2, Unread: 2, Total: 3, Today: 3, HighPriority: 2}, st)
}

func TestMemory_StaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	m, err := repo.Create(ctx, Message{Sender: "alice", Recipient: "bob", Body: "v1", Status: StatusSent})
	require.NoError(t, err)

	_, err = repo.UpdateBody(ctx, m.ID, "v2", m.Version, time.Now())
	require.NoError(t, err)

	_, err = repo.UpdateBody(ctx, m.ID, "v2-from-stale-reader", m.Version, time.Now())
	require.ErrorIs(t, err, ErrVersionConflict)

	_, err = repo.SoftDelete(ctx, m.ID, "alice", m.Version, time.Now())
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemory_NegativeOffsetStartsAtFirstRow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	_, err := svc.Send(ctx, SendRequest{Sender: "alice", Recipient: "bob", Body: "one"})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		items, total, err := svc.repo.ListSent(ctx, "alice", 10, -40)
		require.NoError(t, err)
		require.Equal(t, int64(1), total)
		require.Len(t, items, 1)
	})
}
