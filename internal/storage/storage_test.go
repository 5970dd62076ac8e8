package storage_test

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/scrypster/lorekeeper/internal/storage"
)

func TestGlobToLike(t *testing.T) {
	cases := map[string]string{
		"l1:*":        "l1:%",
		"l3:npc:?":    "l3:npc:_",
		"100%_done\\": "100\\%\\_done\\\\",
		"exact":       "exact",
	}
	for in, want := range cases {
		assert.Equal(t, want, storage.GlobToLike(in), "GlobToLike(%q)", in)
	}
}

func TestGlobToSQLite(t *testing.T) {
	assert.Equal(t, "l3:npc:[[]ab[]]*", storage.GlobToSQLite("l3:npc:[ab]*"))
	assert.Equal(t, `l1:a\b?`, storage.GlobToSQLite(`l1:a\b?`))
}

func TestSearchTerms(t *testing.T) {
	got := storage.SearchTerms(`Who saved the "Village" of Oakvale? oakvale -- a`)
	assert.Equal(t, []string{"saved", "village", "oakvale"}, got)
	assert.Empty(t, storage.SearchTerms("the of a"))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, storage.DefaultListLimit, storage.NormalizeLimit(0))
	assert.Equal(t, storage.MaxListLimit, storage.NormalizeLimit(10_000))
	assert.Equal(t, 7, storage.NormalizeLimit(7))
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out, err := storage.DecodeEmbedding(storage.EncodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = storage.DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, storage.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, storage.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, storage.CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, storage.CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestMigrationManager_UpDown(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	fsys := fstest.MapFS{
		"001_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
		"001_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"002_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);")},
		"002_gadgets.down.sql": {Data: []byte("DROP TABLE gadgets;")},
		"README.md":            {Data: []byte("ignored")},
	}

	mgr, err := storage.NewMigrationManager(ctx, db, fsys, storage.DialectSQLite)
	require.NoError(t, err)

	_, err = mgr.Version(ctx)
	assert.ErrorIs(t, err, storage.ErrNoMigration)

	require.NoError(t, mgr.Up(ctx))
	v, err := mgr.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	// Re-running is a no-op.
	require.NoError(t, mgr.Up(ctx))

	_, err = db.ExecContext(ctx, "INSERT INTO gadgets (id) VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, mgr.Down(ctx))
	_, err = mgr.Version(ctx)
	assert.ErrorIs(t, err, storage.ErrNoMigration)
}
