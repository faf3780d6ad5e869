package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Memory Store Tests ---

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("test_")

	_, ok, err := s.LoadCursor("task1")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.SaveCursor("task1", 100))

	h, ok, err := s.LoadCursor("task1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), h)

	assert.NoError(t, s.Close())
}

// --- File Store Tests ---

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, ok, err := s.LoadCursor("")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveCursor("", 101))

	data, err := os.ReadFile(filepath.Join(dir, DefaultKey))
	require.NoError(t, err)
	assert.Equal(t, "101", string(data))

	h, ok, err := s.LoadCursor(DefaultKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(101), h)
	assert.NoError(t, s.Close())
}

func TestFileStore_SaveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveCursor("chain", 7))
	require.NoError(t, s.SaveCursor("chain", 7))

	h, ok, err := s.LoadCursor("chain")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), h)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultKey), []byte("abc"), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, _, err = s.LoadCursor(DefaultKey)
	assert.Error(t, err)
}

func TestFileStore_TrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultKey), []byte("42\n"), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	h, ok, err := s.LoadCursor(DefaultKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), h)
}

// --- Postgres Store Tests ---

func TestPostgresStore_InitTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newPostgresStore(db, "custom_")

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "custom_checkpoints"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, store.initTable())

	mock.ExpectExec("CREATE TABLE").WillReturnError(assert.AnError)
	assert.ErrorIs(t, store.initTable(), assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newPostgresStore(db, "")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "scanner_checkpoints"`)).
		WithArgs(DefaultKey, int64(100)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, store.SaveCursor(DefaultKey, 100))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "scanner_checkpoints"`)).
		WillReturnError(assert.AnError)
	assert.Error(t, store.SaveCursor(DefaultKey, 100))

	rows := sqlmock.NewRows([]string{"next_height"}).AddRow(200)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT next_height FROM "scanner_checkpoints"`)).
		WithArgs(DefaultKey).
		WillReturnRows(rows)
	h, ok, err := store.LoadCursor(DefaultKey)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(200), h)

	// a stored zero is a checkpoint, not a missing one
	mock.ExpectQuery("SELECT next_height").
		WithArgs("fresh").
		WillReturnRows(sqlmock.NewRows([]string{"next_height"}).AddRow(0))
	h, ok, err = store.LoadCursor("fresh")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h)

	mock.ExpectQuery("SELECT next_height").
		WithArgs("other").
		WillReturnError(sql.ErrNoRows)
	_, ok, err = store.LoadCursor("other")
	assert.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT next_height").
		WillReturnError(assert.AnError)
	_, _, err = store.LoadCursor("broken")
	assert.Error(t, err)

	mock.ExpectClose()
	assert.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_InvalidURL(t *testing.T) {
	_, err := NewPostgresStore("postgres://invalid-url?param=^^", "prefix")
	assert.Error(t, err)
}

// --- Redis Store Tests ---

func TestRedisStore_SaveLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := newRedisStore(db, "scan:")

	mock.ExpectHSet("scan:checkpoints", DefaultKey, uint64(100)).SetVal(1)
	assert.NoError(t, store.SaveCursor(DefaultKey, 100))

	mock.ExpectHSet("scan:checkpoints", DefaultKey, uint64(100)).SetErr(assert.AnError)
	assert.Error(t, store.SaveCursor(DefaultKey, 100))

	mock.ExpectHGet("scan:checkpoints", DefaultKey).SetVal("500")
	h, ok, err := store.LoadCursor(DefaultKey)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(500), h)

	mock.ExpectHGet("scan:checkpoints", "other").SetErr(redis.Nil)
	_, ok, err = store.LoadCursor("other")
	assert.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectHGet("scan:checkpoints", "broken").SetErr(assert.AnError)
	_, _, err = store.LoadCursor("broken")
	assert.Error(t, err)

	mock.ExpectHGet("scan:checkpoints", "garbled").SetVal("not-a-number")
	_, _, err = store.LoadCursor("garbled")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, store.Close())
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	db, _ := redismock.NewClientMock()
	assert.Equal(t, "scanner:checkpoints", newRedisStore(db, "").hash)
}

func TestNewRedisStore_PingFail(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0, "")
	assert.Error(t, err)
}

var (
	_ Persistence = (*MemoryStore)(nil)
	_ Persistence = (*FileStore)(nil)
	_ Persistence = (*RedisStore)(nil)
	_ Persistence = (*PostgresStore)(nil)
)
