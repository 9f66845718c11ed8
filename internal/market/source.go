package market

import "context"

// Source 行情来源。实现位于 gateway/quote。
type Source interface {
	Name() string
	Quote(ctx context.Context, stockCode string) (Quote, error)
}
