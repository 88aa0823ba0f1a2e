package sqliteutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const schema = `create table if not exists kv (
	key text primary key,
	value text not null
);`

func TestOpenAndApply(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "a", "b", "test.db")

	db, err := OpenAndApply(ctx, path, schema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "insert into kv(key, value) values ('plate', 'ABC123')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// applying the schema again keeps the data.
	db, err = OpenAndApply(ctx, path, schema)
	require.NoError(t, err)
	defer db.Close()
	var value string
	require.NoError(t, db.QueryRowContext(ctx, "select value from kv where key = 'plate'").Scan(&value))
	require.Equal(t, "ABC123", value)
}

func TestOpenAndApplyBadSchema(t *testing.T) {
	_, err := OpenAndApply(context.Background(), ":memory:", "create tabel broken")
	require.Error(t, err)
}
