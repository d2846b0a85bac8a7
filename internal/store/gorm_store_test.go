package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// newTestStore wires a GormStore against a sqlmock-backed
// database/sql handle, the way the sendense/migratekit reference pack
// tests its GORM repositories without a live database.
func newTestStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{})
	require.NoError(t, err)

	return New(gdb, sqlx.NewDb(sqlDB, "mysql")), mock
}

func TestInsertRestoreJob_RejectsConcurrentRestore(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM .restore_jobs.`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := s.InsertRestoreJob(context.Background(), &RestoreJob{ID: "job-2", VMID: "vm-a"})
	require.Error(t, err)
	var concurrent *ErrConcurrentRestore
	require.ErrorAs(t, err, &concurrent)
	require.Equal(t, "vm-a", concurrent.VMID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRestoreJob_InsertsWhenNoneInFlight(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM .restore_jobs.`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO .restore_jobs.`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.InsertRestoreJob(context.Background(), &RestoreJob{ID: "job-1", VMID: "vm-a"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestCancellation_IsIdempotentOnTerminalJob(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM .restore_jobs.`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "vm_id", "status"}).
			AddRow("job-1", "vm-a", string(JobSucceeded)))
	mock.ExpectCommit()

	err := s.RequestCancellation(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeSnapshotRun_ComputesStatusFromCounters(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT \* FROM .snapshot_runs.`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created", "failed"}).AddRow("run-1", 0, 2))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE .snapshot_runs.`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := s.FinalizeSnapshotRun(context.Background(), "run-1", nil)
	require.NoError(t, err)
	require.Equal(t, RunFailed, status)
	require.NoError(t, mock.ExpectationsWereMet())
}
