package storage

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/meritpath/worker-service/internal/api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStorage(sqlx.NewDb(db, "postgres")), mock
}

var jobColumns = []string{"id", "user_id", "job_type", "status", "params", "result", "created_at", "updated_at"}

func TestStorage_CreateJob(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now()
	userID := "u1"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs("j1", "u1", "print_numbers", "pending", `{"user_id":"u1"}`, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateJob(context.Background(), &model.Job{
		ID: "j1", UserID: &userID, JobType: "print_numbers", Status: "pending",
		Params: []byte(`{"user_id":"u1"}`), CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetJobByID(t *testing.T) {
	now := time.Now()

	t.Run("found with null result", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).
			WithArgs("j1").
			WillReturnRows(sqlmock.NewRows(jobColumns).
				AddRow("j1", nil, "print_numbers", "pending", []byte(`{}`), nil, now, now))

		job, err := s.GetJobByID(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, "j1", job.ID)
		assert.Nil(t, job.UserID)
		assert.Nil(t, job.Result)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(jobColumns))

		_, err := s.GetJobByID(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestStorage_ListJobResults(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_results")).
		WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "status", "result", "created_at"}).
			AddRow(int64(2), "j1", "completed", []byte(`{"status":"success"}`), now).
			AddRow(int64(1), "j1", "failed", []byte(`{"status":"failed"}`), now))

	results, err := s.ListJobResults(context.Background(), "j1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].ID)
}

func TestStorage_ListJobs(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		filter JobFilter
		args   []driver.Value
		clause string
	}{
		{
			name:   "no filters",
			filter: JobFilter{PageSize: 20},
			args:   []driver.Value{int64(21)},
			clause: "LIMIT $1",
		},
		{
			name:   "status and user",
			filter: JobFilter{UserID: "u1", Status: "failed", PageSize: 5},
			args:   []driver.Value{"u1", "failed", int64(6)},
			clause: "AND status = $2",
		},
		{
			name:   "cursor",
			filter: JobFilter{PageSize: 5, Cursor: &JobCursor{CreatedAt: now, JobID: "j9"}},
			args:   []driver.Value{now, "j9", int64(6)},
			clause: "(created_at, id) < ($1, $2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)

			mock.ExpectQuery(regexp.QuoteMeta(tt.clause)).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows(jobColumns).
					AddRow("j1", "u1", "print_numbers", "failed", []byte(`{}`), nil, now, now))

			jobs, err := s.ListJobs(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, jobs, 1)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
