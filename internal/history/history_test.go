package history

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNew(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the table", func(t *testing.T) {
		_, mockPool := newMockStore(t)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecord(t *testing.T) {
	s, mockPool := newMockStore(t)
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAttempt)).
		WithArgs("run-1", "alice", "duk008", "success", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Record(context.Background(), Attempt{RunID: "run-1", Username: "alice", Report: "duk008", Outcome: "success", AttemptedAt: at})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordFillsTimestamp(t *testing.T) {
	s, mockPool := newMockStore(t)
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAttempt)).
		WithArgs("run-1", "bob", "ic01", "failure", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	err := s.Record(context.Background(), Attempt{RunID: "run-1", Username: "bob", Report: "ic01", Outcome: "failure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	s, mockPool := newMockStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"run_id", "username", "report", "outcome", "attempted_at"}).
		AddRow("run-2", "alice", "duk008", "password_expired", now).
		AddRow("run-1", "alice", "duk008", "success", now.Add(-time.Hour))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentAttempts)).
		WithArgs("alice", 10).
		WillReturnRows(rows)

	got, err := s.Recent(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "password_expired", got[0].Outcome)
	assert.True(t, got[1].AttemptedAt.Equal(now.Add(-time.Hour)))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	assert.NoError(t, r.Record(context.Background(), Attempt{}))
}
