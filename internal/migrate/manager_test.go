package migrate

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `
-- roles; first
insert into roles(name) values ('a;b');
insert into roles(name) values ('c'); -- trailing
select 1`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "'a;b'")
	assert.NotContains(t, stmts[0], "first")
	assert.NotContains(t, stmts[2], "trailing")
	assert.Contains(t, stmts[2], "select 1")
}

func TestCollectSQLOrdersByName(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("select 2;")},
		"0001_a.up.sql":   {Data: []byte("select 1;")},
		"0001_a.down.sql": {Data: []byte("select -1;")},
		"README.md":       {Data: []byte("x")},
	}
	files, err := collectSQL(fsys, ".up.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001_a.up.sql", files[0].Base)
	assert.Equal(t, "0002_b.up.sql", files[1].Base)

	none, err := collectSQL(nil, ".sql")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpSkipsAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a(id int);")},
		"0002_b.up.sql": {Data: []byte("create table b(id int); create table c(id int);")},
	}
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into schema_migrations\(name, applied_at\) values \(\?1, \?2\)`).
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rebind := strings.NewReplacer("$1", "?1", "$2", "?2").Replace
	m := NewManager(db, fsys, nil, WithRebind(rebind))
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a(id int);")}}
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	m := NewManager(db, fsys, nil)
	err = m.Down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing down migration")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a(id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, fsys, nil)
	require.NoError(t, m.Down(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRollsBackFailedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	seeds := fstest.MapFS{"0001_roles.sql": {Data: []byte("insert into roles values (1); insert into roles values (2);")}}
	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`insert into roles values \(1\)`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`insert into roles values \(2\)`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	m := NewManager(db, nil, seeds)
	err = m.Seed(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedBookkeepingRollsBackMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a(id int);")}}
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	m := NewManager(db, fsys, nil)
	require.ErrorIs(t, m.Up(context.Background()), assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusListsPendingAndOrphaned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("select 1;")},
		"0002_b.up.sql": {Data: []byte("select 2;")},
	}
	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0000_old.up.sql"))

	m := NewManager(db, fsys, nil)
	states, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{
		{Name: "0000_old.up.sql", Applied: true},
		{Name: "0001_a.up.sql", Applied: true},
		{Name: "0002_b.up.sql", Applied: false},
	}, states)
	assert.Equal(t, "pending 0002_b.up.sql", states[2].String())
	require.NoError(t, mock.ExpectationsWereMet())
}
