package services

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/xuai/navigator/pkg/models"
)

// SQLAnalytics records searches into search_logs and views into visit_stats
// and derives every counter from those tables.
type SQLAnalytics struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

var _ Analytics = (*SQLAnalytics)(nil)

func NewSQLAnalytics(db *gorm.DB, logger *slog.Logger) *SQLAnalytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLAnalytics{db: db, now: time.Now, logger: logger.With("component", "analytics")}
}

type keywordCount struct {
	Keyword string
	Total   int64
}

// dayBounds returns [start, end) of the day offset days from today.
func (s *SQLAnalytics) dayBounds(offset int) (time.Time, time.Time) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, offset)
	return start, start.AddDate(0, 0, 1)
}

func (s *SQLAnalytics) RecordSearch(ctx context.Context, query string, results int, visitor string) {
	row := models.SearchLog{
		Query:       NormalizeKeyword(query),
		ResultCount: results,
		IPAddress:   visitor,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("failed to record search", "error", err)
	}
}

func (s *SQLAnalytics) RecordView(ctx context.Context, toolID int64, visitor string) {
	row := models.VisitStat{
		ToolID:    toolID,
		IPAddress: visitor,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("failed to record view", "tool_id", toolID, "error", err)
	}
}

// HotSearches ranks logged keywords by count. A keyword is trending when it
// was searched more often today than yesterday.
func (s *SQLAnalytics) HotSearches(ctx context.Context, limit int) ([]models.HotSearch, error) {
	var top []keywordCount
	err := s.db.WithContext(ctx).Model(&models.SearchLog{}).
		Select("query AS keyword, COUNT(*) AS total").
		Where("query <> ?", "").
		Group("query").
		Order("total DESC, keyword ASC").
		Limit(limit).
		Scan(&top).Error
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return []models.HotSearch{}, nil
	}

	keywords := make([]string, len(top))
	for i, k := range top {
		keywords[i] = k.Keyword
	}
	today, err := s.dayCounts(ctx, keywords, 0)
	if err != nil {
		return nil, err
	}
	yesterday, err := s.dayCounts(ctx, keywords, -1)
	if err != nil {
		return nil, err
	}

	out := make([]models.HotSearch, 0, len(top))
	for _, k := range top {
		out = append(out, models.HotSearch{
			Keyword:     k.Keyword,
			SearchCount: k.Total,
			IsTrending:  today[k.Keyword] > yesterday[k.Keyword],
		})
	}
	return topHotSearches(out, limit), nil
}

func (s *SQLAnalytics) dayCounts(ctx context.Context, keywords []string, offset int) (map[string]int64, error) {
	start, end := s.dayBounds(offset)
	var rows []keywordCount
	err := s.db.WithContext(ctx).Model(&models.SearchLog{}).
		Select("query AS keyword, COUNT(*) AS total").
		Where("query IN ? AND created_at >= ? AND created_at < ?", keywords, start, end).
		Group("query").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Keyword] = r.Total
	}
	return counts, nil
}

const distinctVisitorsSQL = `SELECT COUNT(DISTINCT ip) FROM (
	SELECT ip_address AS ip FROM search_logs WHERE created_at >= ? AND created_at < ?
	UNION ALL
	SELECT ip_address AS ip FROM visit_stats WHERE created_at >= ? AND created_at < ?
) v WHERE ip <> ''`

func (s *SQLAnalytics) visitors(ctx context.Context, offset int) (int64, error) {
	start, end := s.dayBounds(offset)
	var n int64
	err := s.db.WithContext(ctx).Raw(distinctVisitorsSQL, start, end, start, end).Scan(&n).Error
	return n, err
}

func (s *SQLAnalytics) Counters(ctx context.Context) (*AnalyticsCounters, error) {
	start, end := s.dayBounds(0)
	c := &AnalyticsCounters{}
	err := s.db.WithContext(ctx).Model(&models.SearchLog{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&c.SearchesToday).Error
	if err != nil {
		return nil, err
	}
	if c.VisitorsToday, err = s.visitors(ctx, 0); err != nil {
		return nil, err
	}
	if c.VisitorsYesterday, err = s.visitors(ctx, -1); err != nil {
		return nil, err
	}
	return c, nil
}
