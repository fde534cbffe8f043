package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLAnalytics(t *testing.T) (*SQLAnalytics, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	a := NewSQLAnalytics(gdb, nil)
	a.now = func() time.Time { return time.Date(2025, 3, 2, 15, 0, 0, 0, time.UTC) }
	return a, mock
}

func TestSQLAnalyticsRecords(t *testing.T) {
	a, mock := newSQLAnalytics(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO `search_logs`").
		WithArgs("chatgpt", nil, 4, "10.0.0.1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `visit_stats`").
		WithArgs(int64(7), nil, "10.0.0.1", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	a.RecordSearch(ctx, "  ChatGPT ", 4, "10.0.0.1")
	a.RecordView(ctx, 7, "10.0.0.1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAnalyticsHotSearches(t *testing.T) {
	a, mock := newSQLAnalytics(t)

	mock.ExpectQuery("SELECT query AS keyword, COUNT\\(\\*\\) AS total FROM `search_logs` WHERE query <> \\?").
		WillReturnRows(sqlmock.NewRows([]string{"keyword", "total"}).
			AddRow("chat", 5).
			AddRow("video", 3))
	today := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM `search_logs` WHERE query IN").
		WithArgs("chat", "video", today, today.AddDate(0, 0, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"keyword", "total"}).AddRow("chat", 2))
	mock.ExpectQuery("FROM `search_logs` WHERE query IN").
		WithArgs("chat", "video", today.AddDate(0, 0, -1), today).
		WillReturnRows(sqlmock.NewRows([]string{"keyword", "total"}).
			AddRow("chat", 1).
			AddRow("video", 1))

	hot, err := a.HotSearches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, "chat", hot[0].Keyword)
	assert.Equal(t, int64(5), hot[0].SearchCount)
	assert.True(t, hot[0].IsTrending)
	assert.Equal(t, "video", hot[1].Keyword)
	assert.False(t, hot[1].IsTrending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAnalyticsHotSearchesEmpty(t *testing.T) {
	a, mock := newSQLAnalytics(t)
	mock.ExpectQuery("FROM `search_logs`").
		WillReturnRows(sqlmock.NewRows([]string{"keyword", "total"}))

	hot, err := a.HotSearches(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, hot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAnalyticsCounters(t *testing.T) {
	a, mock := newSQLAnalytics(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `search_logs` WHERE created_at >= \\?").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(12))
	mock.ExpectQuery("SELECT COUNT\\(DISTINCT ip\\)").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(4))
	mock.ExpectQuery("SELECT COUNT\\(DISTINCT ip\\)").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))

	c, err := a.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), c.SearchesToday)
	assert.Equal(t, int64(4), c.VisitorsToday)
	assert.Equal(t, int64(2), c.VisitorsYesterday)
	assert.NoError(t, mock.ExpectationsWereMet())
}
