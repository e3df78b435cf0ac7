package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTopLevelThreadsOnEmptyStore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	items, err := st.ListTopLevelThreads(ctx, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, items)

	total, err := st.CountTopLevelThreads(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestListTopLevelThreadsPagesNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, st, "user_1", "Ada Lovelace", "ada")
	for i := 0; i < 25; i++ {
		mustThread(t, st, author.ID, "", fmt.Sprintf("thread number %d", i))
	}
	root := mustThread(t, st, author.ID, "", "has a reply")
	mustReply(t, st, root.ID, author.ID, "replies are not top-level")

	total, err := st.CountTopLevelThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 26, total)

	page, err := st.ListTopLevelThreads(ctx, 5, 5)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, "thread number 20", page[0].Content)
	for i := 1; i < len(page); i++ {
		assert.False(t, page[i].CreatedAt.After(page[i-1].CreatedAt), "page must be newest first")
	}

	last, err := st.ListTopLevelThreads(ctx, 20, 10)
	require.NoError(t, err)
	assert.Len(t, last, 6)

	beyond, err := st.ListTopLevelThreads(ctx, 40, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestCreateThreadRecordsOwnerAndCommunityLists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, st, "user_1", "Ada Lovelace", "ada")
	community, err := st.CreateCommunity(ctx, NewCommunity{ExternalID: "org_1", Name: "Engines", Username: "engines", CreatedBy: author.ID})
	require.NoError(t, err)

	item := mustThread(t, st, author.ID, community.ID, "first post")
	require.NotNil(t, item.CommunityID)
	assert.Equal(t, community.ID, *item.CommunityID)
	assert.Nil(t, item.ParentID)

	owned, err := st.ListThreadsByUser(ctx, author.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, item.ID, owned[0].ID)

	posted, err := st.ListThreadsByCommunity(ctx, community.ID)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, item.ID, posted[0].ID)
}

func TestCreateReplyAppearsUnderParent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, st, "user_1", "Ada Lovelace", "ada")
	other := mustUser(t, st, "user_2", "Charles Babbage", "charles")
	root := mustThread(t, st, author.ID, "", "root")

	first := mustReply(t, st, root.ID, other.ID, "first reply")
	second := mustReply(t, st, root.ID, author.ID, "second reply")
	require.NotNil(t, first.ParentID)
	assert.Equal(t, root.ID, *first.ParentID)

	loaded, err := st.GetThread(ctx, root.ID)
	require.NoError(t, err)
	require.NoError(t, st.PopulateThreads(ctx, []*Thread{loaded}, 1))
	assert.Equal(t, []string{first.ID, second.ID}, loaded.ChildIDs)
	require.Len(t, loaded.Children, 2)
	require.NotNil(t, loaded.Children[0].Author)
	assert.Equal(t, "Charles Babbage", loaded.Children[0].Author.Name)

	owned, err := st.ListThreadsByUser(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, owned, "replies stay off the author's thread list")
}

func TestCreateReplyMissingParent(t *testing.T) {
	st := newTestStore(t)
	author := mustUser(t, st, "user_1", "Ada Lovelace", "ada")

	_, err := st.CreateReply(context.Background(), "thr_missing", NewThread{Content: "hello", AuthorID: author.ID})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetThreadMissing(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetThread(context.Background(), "thr_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPopulateThreadsStopsAtDepth(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := mustUser(t, st, "user_1", "Ada Lovelace", "ada")
	a := mustThread(t, st, author.ID, "", "A")
	b := mustReply(t, st, a.ID, author.ID, "B")
	c := mustReply(t, st, b.ID, author.ID, "C")
	d := mustReply(t, st, c.ID, author.ID, "D")

	root, err := st.GetThread(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, st.PopulateThreads(ctx, []*Thread{root}, 2))

	require.NotNil(t, root.Author)
	require.Len(t, root.Children, 1)
	levelOne := root.Children[0]
	assert.Equal(t, b.ID, levelOne.ID)
	require.Len(t, levelOne.Children, 1)
	levelTwo := levelOne.Children[0]
	assert.Equal(t, c.ID, levelTwo.ID)
	require.NotNil(t, levelTwo.Author)
	assert.Equal(t, []string{d.ID}, levelTwo.ChildIDs)
	assert.Nil(t, levelTwo.Children)

	full, err := st.GetThread(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, st.PopulateThreads(ctx, []*Thread{full}, -1))
	leaf := full.Children[0].Children[0].Children[0]
	assert.Equal(t, d.ID, leaf.ID)
	assert.Empty(t, leaf.ChildIDs)
}

func TestDeleteThreadTreeRemovesDescendantsAndReferences(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u1 := mustUser(t, st, "user_1", "Ada Lovelace", "ada")
	u2 := mustUser(t, st, "user_2", "Charles Babbage", "charles")
	community, err := st.CreateCommunity(ctx, NewCommunity{ExternalID: "org_1", Name: "Engines", Username: "engines", CreatedBy: u1.ID})
	require.NoError(t, err)

	a := mustThread(t, st, u1.ID, community.ID, "A")
	b := mustReply(t, st, a.ID, u2.ID, "B")
	c := mustReply(t, st, b.ID, u1.ID, "C")
	keep := mustThread(t, st, u2.ID, "", "unrelated")

	result, err := st.DeleteThreadTree(ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, result.DeletedIDs)
	assert.ElementsMatch(t, []string{u1.ID, u2.ID}, result.AuthorIDs)
	assert.Equal(t, []string{community.ID}, result.CommunityIDs)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		_, err := st.GetThread(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
	_, err = st.GetThread(ctx, keep.ID)
	require.NoError(t, err)

	owned, err := st.ListThreadsByUser(ctx, u1.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)
	owned, err = st.ListThreadsByUser(ctx, u2.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, keep.ID, owned[0].ID)

	posted, err := st.ListThreadsByCommunity(ctx, community.ID)
	require.NoError(t, err)
	assert.Empty(t, posted)

	var dangling int
	require.NoError(t, st.c.queryRow(ctx, `SELECT COUNT(*) FROM user_threads WHERE thread_id NOT IN (SELECT id FROM threads)`).Scan(&dangling))
	assert.Zero(t, dangling)
}

func TestDeleteThreadTreeMissingRoot(t *testing.T) {
	st := newTestStore(t)
	_, err := st.DeleteThreadTree(context.Background(), "thr_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListActivityExcludesOwnReplies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u1 := mustUser(t, st, "user_1", "Ada Lovelace", "ada")
	u2 := mustUser(t, st, "user_2", "Charles Babbage", "charles")

	root := mustThread(t, st, u1.ID, "", "what do you think?")
	fromOther := mustReply(t, st, root.ID, u2.ID, "looks great")
	mustReply(t, st, root.ID, u1.ID, "thanks all")

	activity, err := st.ListActivity(ctx, u1.ID)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, fromOther.ID, activity[0].ID)
	require.NotNil(t, activity[0].Author)
	assert.Equal(t, "user_2", activity[0].Author.ExternalID)

	none, err := st.ListActivity(ctx, u2.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChunksSplitsLongIDLists(t *testing.T) {
	ids := make([]string, 0, 1201)
	for i := 0; i < 1201; i++ {
		ids = append(ids, fmt.Sprintf("id_%d", i))
	}
	parts := chunks(ids, maxInParams)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 500)
	assert.Len(t, parts[2], 201)
	assert.Empty(t, chunks(nil, maxInParams))
}

func TestRebindForSQLite(t *testing.T) {
	query := `SELECT id FROM threads WHERE parent_id=$1 OR author_id=$12`
	assert.Equal(t, `SELECT id FROM threads WHERE parent_id=?1 OR author_id=?12`, SQLite.rebind(query))
	assert.Equal(t, query, Postgres.rebind(query))
	assert.Equal(t, "$3, $4, $5", inList(3, 3))
}
