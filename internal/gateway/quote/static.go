package quote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"qmtrader/internal/market"
)

// Static 返回配置中的固定价格，供离线演练与测试使用。
type Static struct {
	mu     sync.RWMutex
	prices map[string]market.Quote
}

func NewStatic(prices map[string]float64) *Static {
	s := &Static{prices: make(map[string]market.Quote, len(prices))}
	for code, p := range prices {
		s.Set(code, p, 0)
	}
	return s
}

func (s *Static) Name() string { return "static" }

// Set 更新某代码的价格与昨收。
func (s *Static) Set(code string, price, prevClose float64) {
	code = strings.TrimSpace(code)
	s.mu.Lock()
	s.prices[code] = market.Quote{StockCode: code, Price: price, PrevClose: prevClose}
	s.mu.Unlock()
}

func (s *Static) Quote(_ context.Context, stockCode string) (market.Quote, error) {
	s.mu.RLock()
	q, ok := s.prices[strings.TrimSpace(stockCode)]
	s.mu.RUnlock()
	if !ok {
		return market.Quote{}, fmt.Errorf("static quote: unknown code %s", stockCode)
	}
	q.Timestamp = time.Now()
	return q, nil
}
