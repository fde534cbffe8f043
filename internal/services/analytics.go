package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/redisclient"
	"github.com/xuai/navigator/pkg/store"
)

const (
	maxKeywordLen = 100
	dayLayout     = "20060102"
	// trendingWindow is how many of a day's top keywords are compared for trending.
	trendingWindow = 200

	// DefaultMaxKeywords bounds the distinct keywords MemoryAnalytics tracks
	// per map. Crossing it prunes the map to its most searched half.
	DefaultMaxKeywords = 10000
	// DefaultMaxVisitors bounds distinct visitors tracked per day. Visitors
	// beyond it are not counted.
	DefaultMaxVisitors = 100000
)

// AnalyticsCounters day-level traffic counters
type AnalyticsCounters struct {
	SearchesToday     int64
	VisitorsToday     int64
	VisitorsYesterday int64
}

// Analytics records searches and views and answers hot-search queries.
type Analytics interface {
	RecordSearch(ctx context.Context, query string, results int, visitor string)
	RecordView(ctx context.Context, toolID int64, visitor string)
	HotSearches(ctx context.Context, limit int) ([]models.HotSearch, error)
	Counters(ctx context.Context) (*AnalyticsCounters, error)
}

// NormalizeKeyword lowercases and trims a query and caps its length. Empty
// results are not recorded.
func NormalizeKeyword(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if utf8.RuneCountInString(q) > maxKeywordLen {
		q = string([]rune(q)[:maxKeywordLen])
	}
	return q
}

type dayStats struct {
	searches int64
	visitors map[string]struct{}
	keywords map[string]int64
}

func newDayStats() *dayStats {
	return &dayStats{visitors: make(map[string]struct{}), keywords: make(map[string]int64)}
}

// MemoryAnalytics keeps counters in process. Only today and yesterday are retained
// per day; keyword totals are kept for the process lifetime, pruned to the most
// searched keywords once maxKeywords distinct ones accumulate.
type MemoryAnalytics struct {
	mu          sync.Mutex
	now         func() time.Time
	days        map[string]*dayStats
	totals      map[string]int64
	maxKeywords int
	maxVisitors int
}

func NewMemoryAnalytics() *MemoryAnalytics {
	return &MemoryAnalytics{
		now:         time.Now,
		days:        make(map[string]*dayStats),
		totals:      make(map[string]int64),
		maxKeywords: DefaultMaxKeywords,
		maxVisitors: DefaultMaxVisitors,
	}
}

// pruneKeywords keeps the keep most searched keywords of counts. Ties are
// broken by keyword so the result is deterministic.
func pruneKeywords(counts map[string]int64, keep int) {
	if len(counts) <= keep {
		return
	}
	entries := make([]models.HotSearch, 0, len(counts))
	for kw, n := range counts {
		entries = append(entries, models.HotSearch{Keyword: kw, SearchCount: n})
	}
	for _, e := range topHotSearches(entries, len(entries))[keep:] {
		delete(counts, e.Keyword)
	}
}

func (m *MemoryAnalytics) addVisitor(d *dayStats, visitor string) {
	if visitor == "" {
		return
	}
	if _, ok := d.visitors[visitor]; ok || len(d.visitors) >= m.maxVisitors {
		return
	}
	d.visitors[visitor] = struct{}{}
}

// day returns today's stats and prunes older days. Caller holds mu.
func (m *MemoryAnalytics) day() *dayStats {
	now := m.now()
	today := now.Format(dayLayout)
	yesterday := now.AddDate(0, 0, -1).Format(dayLayout)
	for k := range m.days {
		if k != today && k != yesterday {
			delete(m.days, k)
		}
	}
	d, ok := m.days[today]
	if !ok {
		d = newDayStats()
		m.days[today] = d
	}
	return d
}

func (m *MemoryAnalytics) RecordSearch(_ context.Context, query string, _ int, visitor string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.day()
	d.searches++
	m.addVisitor(d, visitor)
	m.addKeyword(d, NormalizeKeyword(query), true, true)
}

// addKeyword counts kw into the lifetime totals and/or today's keywords.
// Caller holds mu.
func (m *MemoryAnalytics) addKeyword(d *dayStats, kw string, total, today bool) {
	if kw == "" {
		return
	}
	if today {
		d.keywords[kw]++
		if len(d.keywords) > m.maxKeywords {
			pruneKeywords(d.keywords, m.maxKeywords/2)
		}
	}
	if total {
		m.totals[kw]++
		if len(m.totals) > m.maxKeywords {
			pruneKeywords(m.totals, m.maxKeywords/2)
		}
	}
}

// recordPartial records only the parts of a search that could not be stored
// elsewhere.
func (m *MemoryAnalytics) recordPartial(count bool, visitor, kw string, total, today bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.day()
	if count {
		d.searches++
	}
	m.addVisitor(d, visitor)
	m.addKeyword(d, kw, total, today)
}

func (m *MemoryAnalytics) RecordView(_ context.Context, _ int64, visitor string) {
	if visitor == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addVisitor(m.day(), visitor)
}

// HotSearches ranks keywords by total count. A keyword is trending when it
// was searched more often today than yesterday.
func (m *MemoryAnalytics) HotSearches(_ context.Context, limit int) ([]models.HotSearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.day()
	var yesterdayKW map[string]int64
	if y, ok := m.days[m.now().AddDate(0, 0, -1).Format(dayLayout)]; ok {
		yesterdayKW = y.keywords
	}

	out := make([]models.HotSearch, 0, len(m.totals))
	for kw, n := range m.totals {
		out = append(out, models.HotSearch{
			Keyword:     kw,
			SearchCount: n,
			IsTrending:  today.keywords[kw] > yesterdayKW[kw],
		})
	}
	return topHotSearches(out, limit), nil
}

func (m *MemoryAnalytics) Counters(_ context.Context) (*AnalyticsCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.day()
	c := &AnalyticsCounters{
		SearchesToday: today.searches,
		VisitorsToday: int64(len(today.visitors)),
	}
	if y, ok := m.days[m.now().AddDate(0, 0, -1).Format(dayLayout)]; ok {
		c.VisitorsYesterday = int64(len(y.visitors))
	}
	return c, nil
}

func topHotSearches(list []models.HotSearch, limit int) []models.HotSearch {
	sort.Slice(list, func(i, j int) bool {
		if list[i].SearchCount != list[j].SearchCount {
			return list[i].SearchCount > list[j].SearchCount
		}
		return list[i].Keyword < list[j].Keyword
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// counterStore is the subset of redisclient.Client used by RedisAnalytics.
type counterStore interface {
	Get(ctx context.Context, key string) (string, error)
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	PFAddWithTTL(ctx context.Context, key string, ttl time.Duration, members ...any) error
	PFCount(ctx context.Context, keys ...string) (int64, error)
	ZIncrBy(ctx context.Context, key string, incr float64, member string, ttl time.Duration) error
	ZTop(ctx context.Context, key string, n int) ([]redisclient.ZEntry, error)
}

// RedisAnalytics shares counters between instances through Redis. While Redis
// is unavailable it records into, and answers from, an in-process fallback.
// Counts held by the fallback are not copied back once Redis recovers, so
// reads after recovery omit what happened during the outage.
type RedisAnalytics struct {
	rdb      counterStore
	prefix   string
	now      func() time.Time
	fallback *MemoryAnalytics
	logger   *slog.Logger
}

func NewRedisAnalytics(rdb counterStore, logger *slog.Logger) *RedisAnalytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAnalytics{
		rdb:      rdb,
		prefix:   "navigator:",
		now:      time.Now,
		fallback: NewMemoryAnalytics(),
		logger:   logger.With("component", "analytics"),
	}
}

const (
	dayKeyTTL   = 48 * time.Hour
	totalKeyTTL = 30 * 24 * time.Hour
)

func (r *RedisAnalytics) key(parts ...string) string {
	return r.prefix + strings.Join(parts, ":")
}

func (r *RedisAnalytics) days() (today, yesterday string) {
	now := r.now()
	return now.Format(dayLayout), now.AddDate(0, 0, -1).Format(dayLayout)
}

// RecordSearch writes each counter separately. A counter that fails is
// recorded in the fallback so nothing is counted twice.
func (r *RedisAnalytics) RecordSearch(ctx context.Context, query string, _ int, visitor string) {
	today, _ := r.days()
	var (
		failed        bool
		countFailed   bool
		failedVisitor string
		totalFailed   bool
		todayFailed   bool
	)

	if _, err := r.rdb.IncrWithTTL(ctx, r.key("search", "count", today), dayKeyTTL); err != nil {
		countFailed, failed = true, true
	}
	if visitor != "" {
		if err := r.rdb.PFAddWithTTL(ctx, r.key("visitors", today), dayKeyTTL, visitor); err != nil {
			failedVisitor, failed = visitor, true
		}
	}
	kw := NormalizeKeyword(query)
	if kw != "" {
		if err := r.rdb.ZIncrBy(ctx, r.key("search", "hot"), 1, kw, totalKeyTTL); err != nil {
			totalFailed, failed = true, true
		}
		if err := r.rdb.ZIncrBy(ctx, r.key("search", "hot", today), 1, kw, dayKeyTTL); err != nil {
			todayFailed, failed = true, true
		}
	}

	if failed {
		r.logger.Debug("recording search in memory", "count", countFailed, "visitor", failedVisitor != "",
			"total", totalFailed, "today", todayFailed)
		r.fallback.recordPartial(countFailed, failedVisitor, kw, totalFailed, todayFailed)
	}
}

func (r *RedisAnalytics) RecordView(ctx context.Context, toolID int64, visitor string) {
	if visitor == "" {
		return
	}
	today, _ := r.days()
	if err := r.rdb.PFAddWithTTL(ctx, r.key("visitors", today), dayKeyTTL, visitor); err != nil {
		r.logger.Debug("recording view in memory", "tool_id", toolID, "error", err)
		r.fallback.RecordView(ctx, toolID, visitor)
	}
}

func (r *RedisAnalytics) HotSearches(ctx context.Context, limit int) ([]models.HotSearch, error) {
	today, yesterday := r.days()

	top, err := r.rdb.ZTop(ctx, r.key("search", "hot"), limit)
	if err != nil {
		r.logger.Debug("serving hot searches from memory", "error", err)
		return r.fallback.HotSearches(ctx, limit)
	}
	todayTop, err := r.rdb.ZTop(ctx, r.key("search", "hot", today), trendingWindow)
	if err != nil {
		return r.fallback.HotSearches(ctx, limit)
	}
	yesterdayTop, err := r.rdb.ZTop(ctx, r.key("search", "hot", yesterday), trendingWindow)
	if err != nil {
		return r.fallback.HotSearches(ctx, limit)
	}

	todayScores := scoreMap(todayTop)
	yesterdayScores := scoreMap(yesterdayTop)

	out := make([]models.HotSearch, 0, len(top))
	for _, z := range top {
		out = append(out, models.HotSearch{
			Keyword:     z.Member,
			SearchCount: int64(z.Score),
			IsTrending:  todayScores[z.Member] > yesterdayScores[z.Member],
		})
	}
	return topHotSearches(out, limit), nil
}

func (r *RedisAnalytics) Counters(ctx context.Context) (*AnalyticsCounters, error) {
	today, yesterday := r.days()

	searches, err := r.getInt(ctx, r.key("search", "count", today))
	if err != nil {
		return r.fallback.Counters(ctx)
	}
	visitorsToday, err := r.rdb.PFCount(ctx, r.key("visitors", today))
	if err != nil {
		return r.fallback.Counters(ctx)
	}
	visitorsYesterday, err := r.rdb.PFCount(ctx, r.key("visitors", yesterday))
	if err != nil {
		return r.fallback.Counters(ctx)
	}
	return &AnalyticsCounters{
		SearchesToday:     searches,
		VisitorsToday:     visitorsToday,
		VisitorsYesterday: visitorsYesterday,
	}, nil
}

func (r *RedisAnalytics) getInt(ctx context.Context, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func scoreMap(entries []redisclient.ZEntry) map[string]float64 {
	m := make(map[string]float64, len(entries))
	for _, e := range entries {
		m[e.Member] = e.Score
	}
	return m
}

// StatsService assembles the back-office dashboard.
type StatsService struct {
	store     store.Store
	analytics Analytics
	now       func() time.Time
}

func NewStatsService(st store.Store, analytics Analytics) *StatsService {
	return &StatsService{store: st, analytics: analytics, now: time.Now}
}

// Dashboard counts the catalog and users and merges today's traffic counters.
// Tool and user growth compare creations in the last 7 days with the 7 days before.
func (s *StatsService) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	tools, err := s.store.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	stats := &models.DashboardStats{
		TotalTools:      len(tools),
		TotalCategories: len(cats),
		TotalUsers:      len(users),
	}

	var toolsThisWeek, toolsLastWeek int
	for _, t := range tools {
		if t.IsActive {
			stats.ActiveTools++
		} else {
			stats.PendingTools++
		}
		switch {
		case t.CreatedAt.After(weekAgo):
			toolsThisWeek++
		case t.CreatedAt.After(twoWeeksAgo):
			toolsLastWeek++
		}
	}

	var usersThisWeek, usersLastWeek int
	for _, u := range users {
		if u.IsActive {
			stats.ActiveUsers++
		}
		switch {
		case u.CreatedAt.After(weekAgo):
			usersThisWeek++
		case u.CreatedAt.After(twoWeeksAgo):
			usersLastWeek++
		}
	}

	stats.ToolsGrowth = growth(int64(toolsThisWeek), int64(toolsLastWeek))
	stats.UsersGrowth = growth(int64(usersThisWeek), int64(usersLastWeek))

	if s.analytics != nil {
		counters, err := s.analytics.Counters(ctx)
		if err != nil {
			return nil, err
		}
		stats.DailyVisitors = counters.VisitorsToday
		stats.SearchesToday = counters.SearchesToday
		stats.VisitorsGrowth = growth(counters.VisitorsToday, counters.VisitorsYesterday)
	}
	return stats, nil
}

// growth is the percentage change from prev to cur, rounded to one decimal.
// Growth from zero is 100 when anything happened and 0 otherwise.
func growth(cur, prev int64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	pct := float64(cur-prev) / float64(prev) * 100
	return math.Round(pct*10) / 10
}
