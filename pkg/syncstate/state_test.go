package syncstate_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

func sampleSnapshot() syncstate.Snapshot {
	return syncstate.Snapshot{
		Tables: []syncstate.TableState{
			{Source: "in.c-main.orders", LastImportDate: "2024-03-01T10:00:00+0100"},
			{Source: "in.c-main.customers", LastImportDate: "2024-03-02T08:30:00Z"},
		},
		Files: []syncstate.FileState{
			{
				Tags: []syncstate.Tag{
					{Name: "invoices", Match: syncstate.MatchInclude},
					{Name: "archived", Match: syncstate.MatchExclude},
				},
				LastImportID: "1024",
			},
			{
				Tags:         []syncstate.Tag{{Name: "logs", Match: syncstate.MatchInclude}},
				LastImportID: "77",
			},
		},
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	snap := sampleSnapshot()

	raw, err := syncstate.Serialize(snap)
	require.NoError(t, err)

	decoded, err := syncstate.Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)
}

func TestSerialize_RoundTripThroughState(t *testing.T) {
	snap := sampleSnapshot()
	st, err := syncstate.New(snap)
	require.NoError(t, err)

	raw, err := syncstate.Serialize(st.Snapshot())
	require.NoError(t, err)
	decoded, err := syncstate.Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)
}

func TestSerialize_WireFormat(t *testing.T) {
	raw, err := syncstate.Serialize(syncstate.Snapshot{
		Tables: []syncstate.TableState{{Source: "in.c-a.t", LastImportDate: "2024-01-01T00:00:00Z"}},
		Files: []syncstate.FileState{{
			Tags:         []syncstate.Tag{{Name: "x", Match: syncstate.MatchExclude}},
			LastImportID: "5",
		}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"tables": [{"source": "in.c-a.t", "lastImportDate": "2024-01-01T00:00:00Z"}],
		"files": [{"tags": [{"name": "x", "match": "exclude"}], "lastImportId": "5"}]
	}`, string(raw))
}

func TestDeserialize_Empty(t *testing.T) {
	snap, err := syncstate.Deserialize(nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Tables)
	assert.Empty(t, snap.Files)

	_, err = syncstate.Deserialize([]byte("{not json"))
	assert.Error(t, err)
}

func TestTableStateList_Get(t *testing.T) {
	st, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	got, err := st.Tables().Get("in.c-main.orders")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00+0100", got.LastImportDate)

	_, err = st.Tables().Get("in.c-main.unknown")
	require.Error(t, err)
	var nf *syncstate.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, syncstate.KindTable, nf.Kind)
	assert.True(t, syncstate.IsNotFound(err))
	assert.Contains(t, err.Error(), "in.c-main.unknown")
}

func TestFileStateList_Get(t *testing.T) {
	st, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	got, err := st.Files().Get([]syncstate.Tag{
		{Name: "invoices", Match: syncstate.MatchInclude},
		{Name: "archived", Match: syncstate.MatchExclude},
	})
	require.NoError(t, err)
	assert.Equal(t, "1024", got.LastImportID)

	// Different match mode is a different source.
	_, err = st.Files().Get([]syncstate.Tag{
		{Name: "invoices", Match: syncstate.MatchInclude},
		{Name: "archived", Match: syncstate.MatchInclude},
	})
	assert.True(t, syncstate.IsNotFound(err))

	// Subset of tags does not match.
	_, err = st.Files().Get([]syncstate.Tag{{Name: "invoices", Match: syncstate.MatchInclude}})
	assert.True(t, syncstate.IsNotFound(err))
}

func TestFileStateList_GetIgnoresTagOrder(t *testing.T) {
	st, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	got, err := st.Files().Get([]syncstate.Tag{
		{Name: "archived", Match: syncstate.MatchExclude},
		{Name: "invoices", Match: syncstate.MatchInclude},
	})
	require.NoError(t, err)
	assert.Equal(t, "1024", got.LastImportID)
}

func TestTagSignature(t *testing.T) {
	a := syncstate.TagSignature([]syncstate.Tag{{Name: "b"}, {Name: "a", Match: syncstate.MatchExclude}})
	b := syncstate.TagSignature([]syncstate.Tag{{Name: "a", Match: syncstate.MatchExclude}, {Name: "b", Match: syncstate.MatchInclude}})
	assert.Equal(t, a, b)
	assert.Equal(t, "[a=exclude,b=include]", a)

	// Separators inside names cannot collide with the list structure.
	c := syncstate.TagSignature([]syncstate.Tag{{Name: "a=include,b"}})
	d := syncstate.TagSignature([]syncstate.Tag{{Name: "a"}, {Name: "b"}})
	assert.NotEqual(t, c, d)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := syncstate.New(syncstate.Snapshot{Tables: []syncstate.TableState{
		{Source: "in.c-a.t", LastImportDate: "2024-01-01T00:00:00Z"},
		{Source: "in.c-a.t", LastImportDate: "2024-02-01T00:00:00Z"},
	}})
	var dup *syncstate.DuplicateKeyError
	require.True(t, errors.As(err, &dup))

	_, err = syncstate.New(syncstate.Snapshot{Files: []syncstate.FileState{
		{Tags: []syncstate.Tag{{Name: "a"}, {Name: "b"}}, LastImportID: "1"},
		{Tags: []syncstate.Tag{{Name: "b"}, {Name: "a"}}, LastImportID: "2"},
	}})
	require.True(t, errors.As(err, &dup))
}

func TestNew_RejectsInvalidTags(t *testing.T) {
	_, err := syncstate.New(syncstate.Snapshot{Files: []syncstate.FileState{
		{Tags: []syncstate.Tag{{Name: "a", Match: "maybe"}}, LastImportID: "1"},
	}})
	assert.Error(t, err)

	_, err = syncstate.New(syncstate.Snapshot{Tables: []syncstate.TableState{{LastImportDate: "x"}}})
	assert.Error(t, err)
}

func TestState_Get(t *testing.T) {
	st, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	got, err := st.Get(syncstate.TableKey("in.c-main.customers"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02T08:30:00Z", got.Watermark)

	got, err = st.Get(syncstate.FilesKey([]syncstate.Tag{{Name: "logs"}}))
	require.NoError(t, err)
	assert.Equal(t, "77", got.Watermark)

	_, err = st.Get(syncstate.FilesKey([]syncstate.Tag{{Name: "nope"}}))
	assert.True(t, syncstate.IsNotFound(err))

	_, err = syncstate.Empty().Get(syncstate.TableKey("in.c-main.orders"))
	assert.True(t, syncstate.IsNotFound(err))
}

func TestState_IsNotMutatedByCallers(t *testing.T) {
	st, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	all := st.Files().All()
	all[0].Tags[0].Name = "mutated"

	got, err := st.Files().Get([]syncstate.Tag{
		{Name: "invoices", Match: syncstate.MatchInclude},
		{Name: "archived", Match: syncstate.MatchExclude},
	})
	require.NoError(t, err)
	assert.Equal(t, "invoices", got.Tags[0].Name)
}

func TestBuilder(t *testing.T) {
	prev, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	b := syncstate.NewBuilderFrom(prev)
	b.RecordTable("in.c-main.orders", "2024-04-01T00:00:00Z")
	b.RecordTable("in.c-main.new", "2024-04-02T00:00:00Z")
	b.RecordFiles([]syncstate.Tag{{Name: "logs", Match: syncstate.MatchInclude}}, "90")

	next, err := b.Build()
	require.NoError(t, err)

	orders, err := next.Tables().Get("in.c-main.orders")
	require.NoError(t, err)
	assert.Equal(t, "2024-04-01T00:00:00Z", orders.LastImportDate)
	assert.Equal(t, 3, next.Tables().Len())
	assert.Equal(t, 2, next.Files().Len())

	// Previous state is untouched.
	old, err := prev.Tables().Get("in.c-main.orders")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00+0100", old.LastImportDate)
}

func TestChangedSince(t *testing.T) {
	st, err := syncstate.New(sampleSnapshot())
	require.NoError(t, err)

	since, err := syncstate.ChangedSince(st, "in.c-main.orders")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00+0100", since)

	since, err = syncstate.ChangedSince(st, "in.c-main.unknown")
	require.NoError(t, err)
	assert.Empty(t, since)

	id, err := syncstate.FilesSinceID(st, []syncstate.Tag{{Name: "logs"}})
	require.NoError(t, err)
	assert.Equal(t, "77", id)
}

func TestParseTimestamp(t *testing.T) {
	for _, in := range []string{"2024-03-01T10:00:00+0100", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00+01:00"} {
		ts, err := syncstate.ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.Equal(t, 9, ts.UTC().Hour(), in)
	}
	_, err := syncstate.ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := syncstate.NewMemoryRepository()
	scope := syncstate.Scope{ProjectID: "1", ComponentID: "keboola.ex-db", ConfigurationID: "42"}

	stored, err := repo.Load(ctx, scope)
	require.NoError(t, err)
	assert.Zero(t, stored.Version)
	assert.Empty(t, stored.Snapshot.Tables)

	v, err := repo.Save(ctx, scope, sampleSnapshot(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	stored, err = repo.Load(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), stored.Snapshot)

	_, err = repo.Save(ctx, scope, syncstate.Snapshot{}, 5)
	assert.ErrorIs(t, err, syncstate.ErrVersionMismatch)

	v, err = repo.Save(ctx, scope, syncstate.Snapshot{}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestMemoryRepository_FirstSaveRace(t *testing.T) {
	ctx := context.Background()
	repo := syncstate.NewMemoryRepository()
	scope := syncstate.Scope{ProjectID: "1", ComponentID: "keboola.ex-db", ConfigurationID: "42"}

	first, err := repo.Load(ctx, scope)
	require.NoError(t, err)
	second, err := repo.Load(ctx, scope)
	require.NoError(t, err)

	v, err := repo.Save(ctx, scope, sampleSnapshot(), first.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = repo.Save(ctx, scope, syncstate.Snapshot{}, second.Version)
	require.ErrorIs(t, err, syncstate.ErrVersionMismatch)

	stored, err := repo.Load(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), stored.Snapshot)
}

func TestPostgresRepository_Integration(t *testing.T) {
	dsn := os.Getenv("STATE_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: STATE_DATABASE_URL not set")
	}
	ctx := context.Background()
	repo, err := syncstate.NewPostgresRepository(ctx, dsn)
	require.NoError(t, err)
	defer repo.Close()

	scope := syncstate.Scope{ProjectID: "it", ComponentID: "test", ConfigurationID: t.Name()}
	stored, err := repo.Load(ctx, scope)
	require.NoError(t, err)

	v, err := repo.Save(ctx, scope, sampleSnapshot(), stored.Version)
	require.NoError(t, err)

	stored, err = repo.Load(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, v, stored.Version)
	assert.Equal(t, sampleSnapshot(), stored.Snapshot)

	_, err = repo.Save(ctx, scope, syncstate.Snapshot{}, v-1)
	assert.ErrorIs(t, err, syncstate.ErrVersionMismatch)
	_, err = repo.Save(ctx, scope, syncstate.Snapshot{}, 0)
	assert.ErrorIs(t, err, syncstate.ErrVersionMismatch)
}
