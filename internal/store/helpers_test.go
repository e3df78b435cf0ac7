package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite::memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyMigrations(ctx, db))

	st := NewSQLStore(db)
	st.now = tickingClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return st
}

// tickingClock advances one second per call so creation order is unambiguous.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func mustUser(t *testing.T, st *SQLStore, externalID, name, username string) User {
	t.Helper()
	user, err := st.UpsertUser(context.Background(), UserUpsert{ExternalID: externalID, Name: name, Username: username})
	require.NoError(t, err)
	return user
}

func mustThread(t *testing.T, st *SQLStore, authorID, communityID, content string) *Thread {
	t.Helper()
	item, err := st.CreateThread(context.Background(), NewThread{Content: content, AuthorID: authorID, CommunityID: communityID})
	require.NoError(t, err)
	return item
}

func mustReply(t *testing.T, st *SQLStore, parentID, authorID, content string) *Thread {
	t.Helper()
	item, err := st.CreateReply(context.Background(), parentID, NewThread{Content: content, AuthorID: authorID})
	require.NoError(t, err)
	return item
}
