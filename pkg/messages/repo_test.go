package messages

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatcore/pkg/testhelpers"

	"github.com/stretchr/testify/require"
)

func newTestMessage(sender, recipient, body string) Message {
	return Message{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Priority:  PriorityNormal,
		Status:    StatusSent,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPostgres_CreateAndGet(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresMessageRepository(pool, 0)
	ctx := context.Background()

	alice := testhelpers.CreateTestUser(t, pool)
	bob := testhelpers.CreateTestUser(t, pool)

	m, err := repo.Create(ctx, newTestMessage(alice, bob, "hello"))
	require.NoError(t, err)
	require.NotZero(t, m.ID)
	require.Equal(t, StateActive, m.State)
	require.Equal(t, int64(1), m.Version)

	got, err := repo.GetActiveByID(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Body)
	require.Equal(t, bob, got.Recipient)
	require.Empty(t, got.Subject)
}

func TestPostgres_DanglingParentStoredAsNull(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresMessageRepository(pool, 0)
	ctx := context.Background()

	msg := newTestMessage(testhelpers.UniqueUsername("a"), testhelpers.UniqueUsername("b"), "orphan")
	missing := int64(-1)
	msg.ParentID = &missing

	m, err := repo.Create(ctx, msg)
	require.NoError(t, err)
	require.Nil(t, m.ParentID)
}

func TestPostgres_SoftDeleteHidesRow(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresMessageRepository(pool, 0)
	ctx := context.Background()

	a, b := testhelpers.UniqueUsername("a"), testhelpers.UniqueUsername("b")
	m, err := repo.Create(ctx, newTestMessage(a, b, "secret"))
	require.NoError(t, err)

	deleted, err := repo.SoftDelete(ctx, m.ID, a, m.Version, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, StateDeleted, deleted.State)
	require.Empty(t, deleted.Body)
	require.NotNil(t, deleted.DeletedAt)

	_, err = repo.GetActiveByID(ctx, m.ID)
	require.ErrorIs(t, err, ErrMessageNotFound)

	list, total, err := repo.ListConversation(ctx, a, b, 15, 0)
	require.NoError(t, err)
	require.Empty(t, list)
	require.Zero(t, total)

	_, err = repo.UpdateBody(ctx, m.ID, "revive", deleted.Version, time.Now().UTC())
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPostgres_ConcurrentEditsOneWins(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresMessageRepository(pool, 0)
	ctx := context.Background()

	m, err := repo.Create(ctx, newTestMessage(testhelpers.UniqueUsername("a"), testhelpers.UniqueUsername("b"), "v1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, body := range []string{"left", "right"} {
		wg.Add(1)
		go func(i int, body string) {
			defer wg.Done()
			_, errs[i] = repo.UpdateBody(ctx, m.ID, body, m.Version, time.Now().UTC())
		}(i, body)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrVersionConflict)
			conflicts++
		}
	}
	require.Equal(t, 1, conflicts)
}

func TestPostgres_SearchAndStats(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresMessageRepository(pool, 0)
	ctx := context.Background()

	a, b := testhelpers.UniqueUsername("a"), testhelpers.UniqueUsername("b")
	high := newTestMessage(a, b, "100% Quarterly REPORT")
	high.Priority = PriorityHigh
	_, err := repo.Create(ctx, high)
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTestMessage(b, a, "report_received"))
	require.NoError(t, err)

	list, total, err := repo.Search(ctx, SearchCriteria{Query: "report", Sender: a}, 15, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, list, 1)

	list, _, err = repo.Search(ctx, SearchCriteria{Query: "100%", Recipient: b}, 15, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	st, err := repo.Stats(ctx, b, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, Stats{Sent: 1, Received: 1, Unread: 1, Total: 2, Today: 2, HighPriority: 1}, st)

	read, err := repo.MarkRead(ctx, list[0].ID)
	require.NoError(t, err)
	again, err := repo.MarkRead(ctx, list[0].ID)
	require.NoError(t, err)
	require.Equal(t, read.Version, again.Version)
}
