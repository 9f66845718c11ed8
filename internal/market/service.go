package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qmtrader/internal/cache"
	"qmtrader/internal/logger"
)

var log = logger.With("market")

// lastKnownMaxAge 估值时允许使用的最旧行情。
const lastKnownMaxAge = 24 * time.Hour

// QuoteService 在 Source 前加一层 TTL 缓存。行情缓存的键空间只由这里写入。
type QuoteService struct {
	src         Source
	cache       *cache.TTL[Quote]
	staleFactor int
}

func NewQuoteService(src Source, ttl time.Duration, staleFactor int) *QuoteService {
	if staleFactor < 1 {
		staleFactor = 1
	}
	return &QuoteService{src: src, cache: cache.NewTTL[Quote](ttl), staleFactor: staleFactor}
}

// Cache 暴露底层缓存（测试注入时钟用）。
func (s *QuoteService) Cache() *cache.TTL[Quote] {
	return s.cache
}

// Latest 优先返回未过期缓存；源失败时退回 staleFactor×TTL 以内的旧值。
func (s *QuoteService) Latest(ctx context.Context, stockCode string) (QuoteView, error) {
	code := strings.TrimSpace(stockCode)
	if code == "" {
		return QuoteView{}, fmt.Errorf("market: empty stock code")
	}
	if q, age, ok := s.cache.Get(code); ok {
		return QuoteView{Quote: q, Age: age}, nil
	}
	q, err := s.src.Quote(ctx, code)
	if err != nil {
		if stale, age, ok := s.cache.GetStale(code, time.Duration(s.staleFactor)*s.cache.TTL()); ok {
			log.Warnf("quote %s from %s failed, serving %s old value: %v", code, s.src.Name(), age, err)
			return QuoteView{Quote: stale, Age: age}, nil
		}
		return QuoteView{}, fmt.Errorf("market: quote %s: %w", code, err)
	}
	if q.Price <= 0 {
		return QuoteView{}, fmt.Errorf("market: quote %s has non-positive price", code)
	}
	s.cache.Set(code, q)
	return QuoteView{Quote: q}, nil
}

// LastKnown 返回最近一次成功行情，不触发网络请求。
func (s *QuoteService) LastKnown(stockCode string) (Quote, bool) {
	q, _, ok := s.cache.GetStale(strings.TrimSpace(stockCode), lastKnownMaxAge)
	return q, ok
}

// Sweep 丢弃一天以前的行情。
func (s *QuoteService) Sweep() int {
	return s.cache.Purge(lastKnownMaxAge)
}

// Prices 为估值批量取价：先尝试实时，失败用最近已知价，都没有则不返回该代码。
func (s *QuoteService) Prices(ctx context.Context, codes []string) map[string]float64 {
	out := make(map[string]float64, len(codes))
	for _, code := range codes {
		if view, err := s.Latest(ctx, code); err == nil {
			out[code] = view.Price
			continue
		}
		if q, ok := s.LastKnown(code); ok {
			out[code] = q.Price
		}
	}
	return out
}
