package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	loaded, err := store.Load(ctx, "stream-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	tok := &ResumeToken{
		StreamID:    "stream-1",
		Token:       "826455",
		Timestamp:   time.Now().UTC(),
		LastEventID: "evt-42",
	}
	require.NoError(t, store.Save(ctx, tok))

	loaded, err = store.Load(ctx, "stream-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, *tok, *loaded)

	// Saved copies are independent of the caller's struct.
	tok.Token = "mutated"
	loaded, err = store.Load(ctx, "stream-1")
	require.NoError(t, err)
	assert.Equal(t, "826455", loaded.Token)

	require.NoError(t, store.Clear(ctx, "stream-1"))
	loaded, err = store.Load(ctx, "stream-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryStoreClearMissingStream(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Clear(context.Background(), "never-saved"))
}

func TestPostgresStoreSaveUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, PostgresConfig{SchemaName: "speedlayer_test"})

	mock.ExpectExec("INSERT INTO speedlayer_test.resume_tokens").
		WithArgs("stream-1", "826455", sqlmock.AnyArg(), "evt-42").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok := &ResumeToken{
		StreamID:    "stream-1",
		Token:       "826455",
		Timestamp:   time.Now().UTC(),
		LastEventID: "evt-42",
	}
	require.NoError(t, store.Save(context.Background(), tok))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, PostgresConfig{SchemaName: "speedlayer_test"})
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT token, updated_at, last_event_id").
		WithArgs("stream-1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "updated_at", "last_event_id"}).
			AddRow("826455", now, "evt-42"))

	tok, err := store.Load(context.Background(), "stream-1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "stream-1", tok.StreamID)
	assert.Equal(t, "826455", tok.Token)
	assert.Equal(t, "evt-42", tok.LastEventID)
	assert.True(t, now.Equal(tok.Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, PostgresConfig{SchemaName: "speedlayer_test"})

	mock.ExpectQuery("SELECT token, updated_at, last_event_id").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"token", "updated_at", "last_event_id"}))

	tok, err := store.Load(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreClear(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, PostgresConfig{SchemaName: "speedlayer_test"})

	mock.ExpectExec("DELETE FROM speedlayer_test.resume_tokens").
		WithArgs("stream-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Clear(context.Background(), "stream-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCloseLeavesSharedPoolOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, PostgresConfig{})
	require.NoError(t, store.Close())

	// The pool must still accept queries after the store is closed.
	mock.ExpectQuery("SELECT token, updated_at, last_event_id").
		WithArgs("stream-1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "updated_at", "last_event_id"}))

	_, err = store.Load(context.Background(), "stream-1")
	assert.NoError(t, err)
}
