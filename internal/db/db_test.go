package db

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/model"
)

func TestInit_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "laundry.db"),
	}

	gormDB, err := Init(cfg)
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	for _, m := range model.All() {
		assert.True(t, gormDB.Migrator().HasTable(m), "expected table for %T", m)
	}
}

func TestInit_UnknownDriver(t *testing.T) {
	_, err := Init(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestApplyTimescaleDDL_CreatesHypertable(t *testing.T) {
	gormDB, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS timescaledb")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS btree_gist")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM timescaledb_information.hypertables")).
		WithArgs("machine_usages").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("DROP CONSTRAINT IF EXISTS machine_usages_pkey")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ADD PRIMARY KEY (id, observed_end)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create_hypertable('machine_usages', 'observed_end'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CHECK (period_start <= period_end)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("USING GIST (machine_id, tstzrange(period_start, period_end, '[]'))")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("(machine_id, observed_end DESC)")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, applyTimescaleDDL(gormDB))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTimescaleDDL_SkipsExistingHypertable(t *testing.T) {
	gormDB, mock := newMockPostgres(t)

	mock.ExpectExec("CREATE EXTENSION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM timescaledb_information.hypertables")).
		WithArgs("machine_usages").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, applyTimescaleDDL(gormDB))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTimescaleDDL_ReportsFailingStatement(t *testing.T) {
	gormDB, mock := newMockPostgres(t)

	mock.ExpectExec("CREATE EXTENSION").WillReturnError(assert.AnError)

	err := applyTimescaleDDL(gormDB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timescaledb")
	assert.ErrorIs(t, err, assert.AnError)
}
