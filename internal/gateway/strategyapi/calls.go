package strategyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qmtrader/internal/pkg/convert"

	"github.com/tidwall/gjson"
)

const (
	pathStrategySearch = "/api/v1/strategies/search"
	pathStrategies     = "/api/v1/strategies"
	pathExecutions     = "/api/v1/executions"
	pathPositions      = "/api/v1/positions"
)

// SearchParams 对应 GET /api/v1/strategies/search 的查询参数。
type SearchParams struct {
	StartTime time.Time
	EndTime   time.Time
	StockCode string
	StockName string
	IsActive  *bool
	SortBy    string
	Order     string
	Location  *time.Location
}

// Values 生成稳定排序的查询串，也用作缓存指纹。
func (p SearchParams) Values() url.Values {
	v := url.Values{}
	if !p.StartTime.IsZero() {
		v.Set("start_time", convert.FormatTimestamp(p.StartTime, p.Location))
	}
	if !p.EndTime.IsZero() {
		v.Set("end_time", convert.FormatTimestamp(p.EndTime, p.Location))
	}
	if s := strings.TrimSpace(p.StockCode); s != "" {
		v.Set("stock_code", s)
	}
	if s := strings.TrimSpace(p.StockName); s != "" {
		v.Set("stock_name", s)
	}
	if p.IsActive != nil {
		v.Set("is_active", strconv.FormatBool(*p.IsActive))
	}
	if s := strings.TrimSpace(p.SortBy); s != "" {
		v.Set("sort_by", s)
	}
	if s := strings.TrimSpace(p.Order); s != "" {
		v.Set("order", s)
	}
	return v
}

// SearchStrategies 返回未解析的策略条目，由调用方做校验。
func (c *Client) SearchStrategies(ctx context.Context, params SearchParams) ([]json.RawMessage, error) {
	data, err := c.Call(ctx, http.MethodGet, pathStrategySearch, params.Values(), nil)
	if err != nil {
		return nil, err
	}
	return listItems(data), nil
}

func (c *Client) GetStrategy(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodGet, fmt.Sprintf("%s/%d", pathStrategies, id), nil, nil)
}

// StrategyUpdate 是 PUT /api/v1/strategies/{id} 的部分更新体。
type StrategyUpdate struct {
	ExecutionStatus string   `json:"execution_status,omitempty"`
	PositionRatio   *float64 `json:"position_ratio,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

func (c *Client) UpdateStrategy(ctx context.Context, id int64, upd StrategyUpdate) error {
	_, err := c.Call(ctx, http.MethodPut, fmt.Sprintf("%s/%d", pathStrategies, id), nil, upd)
	return err
}

const headerIdempotencyKey = "Idempotency-Key"

// ExecutionPayload 是 POST /api/v1/executions 的请求体。
type ExecutionPayload struct {
	StrategyID      int64   `json:"strategy_id"`
	StockCode       string  `json:"stock_code"`
	Action          string  `json:"action,omitempty"`
	ExecutionPrice  float64 `json:"execution_price"`
	Volume          int64   `json:"volume"`
	ExecutionResult string  `json:"execution_result,omitempty"`
	Remarks         string  `json:"remarks"`
	ExecutionTime   string  `json:"execution_time,omitempty"`

	// IdempotencyKey 以 Idempotency-Key 头发送，超时重试时服务端据此去重。
	IdempotencyKey string `json:"-"`
}

// ExecutionAck 远端返回的成交记录。
type ExecutionAck struct {
	ID              int64   `json:"id"`
	StrategyID      int64   `json:"strategy_id"`
	StockCode       string  `json:"stock_code"`
	ExecutionPrice  float64 `json:"execution_price"`
	Volume          int64   `json:"volume"`
	ExecutionResult string  `json:"execution_result"`
	ExecutionTime   string  `json:"execution_time"`
	Remarks         string  `json:"remarks"`
}

func (c *Client) CreateExecution(ctx context.Context, payload ExecutionPayload) (ExecutionAck, error) {
	var header http.Header
	if payload.IdempotencyKey != "" {
		header = http.Header{headerIdempotencyKey: {payload.IdempotencyKey}}
	}
	data, err := c.call(ctx, http.MethodPost, pathExecutions, nil, payload, header)
	if err != nil {
		return ExecutionAck{}, err
	}
	ack := parseAck(gjson.ParseBytes(data))
	if ack.ID == 0 {
		return ack, fmt.Errorf("strategyapi: execution created without id")
	}
	return ack, nil
}

// ExecutionFilter 对应 GET /api/v1/executions 的过滤条件。
type ExecutionFilter struct {
	StrategyID int64
	StockCode  string
	SortBy     string
	Order      string
	Limit      int
}

func (f ExecutionFilter) Values() url.Values {
	v := url.Values{}
	if f.StrategyID > 0 {
		v.Set("strategy_id", strconv.FormatInt(f.StrategyID, 10))
	}
	if s := strings.TrimSpace(f.StockCode); s != "" {
		v.Set("stock_code", s)
	}
	if s := strings.TrimSpace(f.SortBy); s != "" {
		v.Set("sort_by", s)
	}
	if s := strings.TrimSpace(f.Order); s != "" {
		v.Set("order", s)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

func (c *Client) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionAck, error) {
	data, err := c.Call(ctx, http.MethodGet, pathExecutions, filter.Values(), nil)
	if err != nil {
		return nil, err
	}
	items := listItems(data)
	out := make([]ExecutionAck, 0, len(items))
	for _, item := range items {
		out = append(out, parseAck(gjson.ParseBytes(item)))
	}
	return out, nil
}

// RemotePosition 远端持仓视图，仅用于启动时对账。
type RemotePosition struct {
	StockCode   string
	Quantity    int64
	AverageCost float64
}

func (c *Client) ListPositions(ctx context.Context) ([]RemotePosition, error) {
	data, err := c.Call(ctx, http.MethodGet, pathPositions, nil, nil)
	if err != nil {
		return nil, err
	}
	items := listItems(data)
	out := make([]RemotePosition, 0, len(items))
	for _, item := range items {
		r := gjson.ParseBytes(item)
		qty := r.Get("quantity")
		if !qty.Exists() {
			qty = r.Get("volume")
		}
		cost := r.Get("average_cost")
		if !cost.Exists() {
			cost = r.Get("avg_price")
		}
		out = append(out, RemotePosition{
			StockCode:   strings.TrimSpace(r.Get("stock_code").String()),
			Quantity:    convert.ToInt64(qty.Value()),
			AverageCost: convert.ToFloat64(cost.Value()),
		})
	}
	return out, nil
}

// listItems 兼容 data 为数组或 {items: [...]} 两种形态。
func listItems(data json.RawMessage) []json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	root := gjson.ParseBytes(data)
	arr := root
	if !root.IsArray() {
		arr = root.Get("items")
		if !arr.IsArray() {
			return nil
		}
	}
	var out []json.RawMessage
	arr.ForEach(func(_, value gjson.Result) bool {
		out = append(out, json.RawMessage(value.Raw))
		return true
	})
	return out
}

func parseAck(r gjson.Result) ExecutionAck {
	return ExecutionAck{
		ID:              convert.ToInt64(r.Get("id").Value()),
		StrategyID:      convert.ToInt64(r.Get("strategy_id").Value()),
		StockCode:       r.Get("stock_code").String(),
		ExecutionPrice:  convert.ToFloat64(r.Get("execution_price").Value()),
		Volume:          convert.ToInt64(r.Get("volume").Value()),
		ExecutionResult: r.Get("execution_result").String(),
		ExecutionTime:   r.Get("execution_time").String(),
		Remarks:         r.Get("remarks").String(),
	}
}
