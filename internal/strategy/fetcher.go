package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"qmtrader/internal/cache"
	"qmtrader/internal/gateway/strategyapi"
	"qmtrader/internal/logger"

	"golang.org/x/sync/singleflight"
)

var log = logger.With("strategy")

// latestKey 保存最近一次成功结果，窗口滚动导致指纹变化时仍可兜底。
const latestKey = "latest"

// Searcher 是 Fetcher 依赖的远端查询能力。
type Searcher interface {
	SearchStrategies(ctx context.Context, params strategyapi.SearchParams) ([]json.RawMessage, error)
}

// ReopenChecker 判断已完成的策略是否被远端重新打开（例如提高了仓位比例）。
type ReopenChecker interface {
	Reopened(s Strategy) bool
}

type FetcherConfig struct {
	LookbackDays int
	TTL          time.Duration
	StaleFactor  int
	Location     *time.Location
}

// Fetcher 拉取候选策略：活跃、未完成（或已重开）、按 updated_at 降序、id 升序。
type Fetcher struct {
	api       Searcher
	validator *Validator
	upstream  *cache.Upstream
	reopen    ReopenChecker
	cache     *cache.TTL[[]Strategy]
	lookback  time.Duration
	maxStale  time.Duration
	loc       *time.Location
	group     singleflight.Group
}

func NewFetcher(api Searcher, validator *Validator, upstream *cache.Upstream, cfg FetcherConfig) *Fetcher {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.StaleFactor < 1 {
		cfg.StaleFactor = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if upstream == nil {
		upstream = cache.NewUpstream()
	}
	c := cache.NewTTL[[]Strategy](cfg.TTL)
	return &Fetcher{
		api:       api,
		validator: validator,
		upstream:  upstream,
		cache:     c,
		lookback:  time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		maxStale:  time.Duration(cfg.StaleFactor) * c.TTL(),
		loc:       cfg.Location,
	}
}

// WithReopenChecker 让已完成但被重开的策略重新进入候选集。
func (f *Fetcher) WithReopenChecker(rc ReopenChecker) *Fetcher {
	f.reopen = rc
	return f
}

func (f *Fetcher) Cache() *cache.TTL[[]Strategy] {
	return f.cache
}

// Invalidate 丢弃缓存，执行状态变化后调用。
func (f *Fetcher) Invalidate() {
	f.cache.Purge(0)
}

// Cached 返回最近一次成功拉取的候选（已过滤），不触发网络请求。
func (f *Fetcher) Cached() ([]Strategy, time.Duration, bool) {
	list, age, ok := f.cache.GetStale(latestKey, f.maxStale)
	if !ok {
		return nil, 0, false
	}
	return f.filter(list), age, true
}

// Sweep 清理超出兜底窗口的旧指纹，由健康检查周期调用。
func (f *Fetcher) Sweep() int {
	return f.cache.Purge(f.maxStale)
}

func (f *Fetcher) params(asOf time.Time) strategyapi.SearchParams {
	// 截断到分钟，同一分钟内的请求共享缓存指纹
	end := asOf.In(f.loc).Truncate(time.Minute)
	active := true
	return strategyapi.SearchParams{
		StartTime: end.Add(-f.lookback),
		EndTime:   end,
		IsActive:  &active,
		SortBy:    "updated_at",
		Order:     "desc",
		Location:  f.loc,
	}
}

// FetchCandidates 返回 asOf 时刻的候选策略。
// 远端失败时返回 StaleFactor×TTL 以内的旧结果，否则返回 ErrUpstreamUnavailable。
func (f *Fetcher) FetchCandidates(ctx context.Context, asOf time.Time) ([]Strategy, error) {
	params := f.params(asOf)
	key := params.Values().Encode()

	if list, _, ok := f.cache.Get(key); ok {
		return f.filter(list), nil
	}
	if !f.upstream.Available() {
		if list, age, ok := f.stale(key); ok {
			log.Debugf("upstream unavailable, serving %d strategies cached %s ago", len(list), age.Truncate(time.Second))
			return f.filter(list), nil
		}
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		items, err := f.api.SearchStrategies(ctx, params)
		if err != nil {
			return nil, err
		}
		list := f.decodeAll(items)
		f.cache.Set(key, list)
		f.cache.Set(latestKey, list)
		return list, nil
	})
	if err != nil {
		if list, age, ok := f.stale(key); ok {
			log.Warnf("strategy search failed, serving %d strategies cached %s ago: %v", len(list), age.Truncate(time.Second), err)
			return f.filter(list), nil
		}
		if errors.Is(err, strategyapi.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", strategyapi.ErrUpstreamUnavailable, err)
	}
	return f.filter(v.([]Strategy)), nil
}

func (f *Fetcher) stale(key string) ([]Strategy, time.Duration, bool) {
	if list, age, ok := f.cache.GetStale(key, f.maxStale); ok {
		return list, age, true
	}
	return f.cache.GetStale(latestKey, f.maxStale)
}

func (f *Fetcher) decodeAll(items []json.RawMessage) []Strategy {
	out := make([]Strategy, 0, len(items))
	for _, raw := range items {
		s, err := f.validator.Decode(raw)
		if err != nil {
			log.Warnf("丢弃无效策略: %v", err)
			continue
		}
		out = append(out, s)
	}
	SortCandidates(out)
	return out
}

func (f *Fetcher) filter(list []Strategy) []Strategy {
	out := make([]Strategy, 0, len(list))
	for _, s := range list {
		if !s.IsActive {
			continue
		}
		switch s.ExecutionStatus {
		case StatusPending, StatusPartial:
			out = append(out, s)
		case StatusCompleted:
			if f.reopen != nil && f.reopen.Reopened(s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// SortCandidates 按 updated_at 降序排序，相同时间按 id 升序。
func SortCandidates(list []Strategy) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}
