package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	conn, err := open(postgres.New(postgres.Config{Conn: sqlDB}), Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	return conn.DB, mock
}

func execMigration(name string) func(*gorm.DB) error {
	return func(tx *gorm.DB) error {
		return tx.Exec("CREATE TABLE " + name + " (id int)").Error
	}
}

func TestMigrator_UpSkipsApplied(t *testing.T) {
	gdb, mock := newMockDB(t)
	m := CreateMigrator(gdb)
	m.AddMigration(Migration{Version: "0001", Name: "first", Up: execMigration("first")})
	m.AddMigration(Migration{Version: "0002", Name: "second", Up: execMigration("second")})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "version" FROM "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE second`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("0002", "second").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_UpRollsBackFailedMigration(t *testing.T) {
	gdb, mock := newMockDB(t)
	m := CreateMigrator(gdb)
	m.AddMigration(Migration{Version: "0001", Name: "broken", Up: execMigration("broken")})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "version" FROM "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE broken`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_DownStopsAtVersion(t *testing.T) {
	gdb, mock := newMockDB(t)
	m := CreateMigrator(gdb)
	dropped := []string{}
	for _, v := range []string{"0001", "0002", "0003"} {
		version := v
		m.AddMigration(Migration{
			Version: version,
			Name:    "m" + version,
			Up:      execMigration("t" + version),
			Down: func(tx *gorm.DB) error {
				dropped = append(dropped, version)
				return nil
			},
		})
	}

	mock.ExpectQuery(`SELECT "version" FROM "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001").AddRow("0002").AddRow("0003"))
	for _, v := range []string{"0003", "0002"} {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM schema_migrations`).WithArgs(v).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, m.Down(context.Background(), "0001"))
	assert.Equal(t, []string{"0003", "0002"}, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Status(t *testing.T) {
	gdb, mock := newMockDB(t)
	m := CreateSchemaMigrator(gdb)

	mock.ExpectQuery(`SELECT "version" FROM "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))

	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, len(SchemaMigrations()))
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, "create_core_tables", statuses[0].Name)
	assert.False(t, statuses[1].Applied)
}
