package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qmtrader/internal/pkg/convert"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ErrInvalidStrategy 策略字段缺失或违反价格约束，该策略被丢弃。
var ErrInvalidStrategy = errors.New("invalid strategy")

const strategySchema = `{
  "type": "object",
  "required": ["id", "stock_code", "action", "position_ratio", "price_min", "price_max"],
  "properties": {
    "id": {"type": ["integer", "string"]},
    "stock_code": {"type": "string", "minLength": 1},
    "stock_name": {"type": ["string", "null"]},
    "action": {"type": "string", "enum": ["buy", "sell", "BUY", "SELL"]},
    "position_ratio": {"type": ["number", "string"]},
    "price_min": {"type": ["number", "string"]},
    "price_max": {"type": ["number", "string"]},
    "take_profit_price": {"type": ["number", "string", "null"]},
    "stop_loss_price": {"type": ["number", "string", "null"]},
    "execution_status": {"type": ["string", "null"]},
    "is_active": {"type": ["boolean", "integer", "null"]},
    "created_at": {"type": ["string", "null"]},
    "updated_at": {"type": ["string", "null"]}
  }
}`

// Validator 先做 JSON Schema 结构校验，再做业务约束校验。
type Validator struct {
	schema *jsonschema.Schema
	loc    *time.Location
}

func NewValidator(loc *time.Location) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("strategy.json", strings.NewReader(strategySchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("strategy.json")
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Validator{schema: schema, loc: loc}, nil
}

// Decode 解析并校验一条远端策略。
func (v *Validator) Decode(raw json.RawMessage) (Strategy, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Strategy{}, fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Strategy{}, fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}
	r := gjson.ParseBytes(raw)
	action, _ := ParseAction(r.Get("action").String())
	status, ok := ParseStatus(r.Get("execution_status").String())
	if !ok {
		return Strategy{}, fmt.Errorf("%w: unknown execution_status %q", ErrInvalidStrategy, r.Get("execution_status").String())
	}
	s := Strategy{
		ID:              convert.ToInt64(r.Get("id").Value()),
		StockCode:       strings.TrimSpace(r.Get("stock_code").String()),
		StockName:       strings.TrimSpace(r.Get("stock_name").String()),
		Action:          action,
		PositionRatio:   convert.ToFloat64(r.Get("position_ratio").Value()),
		PriceMin:        convert.ToFloat64(r.Get("price_min").Value()),
		PriceMax:        convert.ToFloat64(r.Get("price_max").Value()),
		TakeProfitPrice: convert.ToFloat64(r.Get("take_profit_price").Value()),
		StopLossPrice:   convert.ToFloat64(r.Get("stop_loss_price").Value()),
		ExecutionStatus: status,
		IsActive:        true,
	}
	if active := r.Get("is_active"); active.Exists() && active.Type != gjson.Null {
		s.IsActive = convert.ToBool(active.Value())
	}
	if ts := r.Get("created_at").String(); ts != "" {
		s.CreatedAt, _ = convert.ParseTimestamp(ts, v.loc)
	}
	if ts := r.Get("updated_at").String(); ts != "" {
		s.UpdatedAt, _ = convert.ParseTimestamp(ts, v.loc)
	}
	if err := Validate(s); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

// Validate 检查价格区间、仓位比例与买入方向的止盈止损关系，不做任何修正。
func Validate(s Strategy) error {
	if s.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidStrategy)
	}
	if s.StockCode == "" {
		return fmt.Errorf("%w: empty stock_code", ErrInvalidStrategy)
	}
	if s.Action != ActionBuy && s.Action != ActionSell {
		return fmt.Errorf("%w: strategy %d has unknown action %q", ErrInvalidStrategy, s.ID, s.Action)
	}
	if s.PositionRatio <= 0 || s.PositionRatio > 1 {
		return fmt.Errorf("%w: strategy %d position_ratio %.4f not in (0,1]", ErrInvalidStrategy, s.ID, s.PositionRatio)
	}
	if s.PriceMin <= 0 || s.PriceMax <= 0 || s.PriceMin > s.PriceMax {
		return fmt.Errorf("%w: strategy %d price band [%.4f, %.4f]", ErrInvalidStrategy, s.ID, s.PriceMin, s.PriceMax)
	}
	if s.StopLossPrice < 0 || s.TakeProfitPrice < 0 {
		return fmt.Errorf("%w: strategy %d negative stop/take price", ErrInvalidStrategy, s.ID)
	}
	if s.Action == ActionBuy {
		if !(s.StopLossPrice < s.PriceMin) {
			return fmt.Errorf("%w: strategy %d stop_loss %.4f must be below price_min %.4f", ErrInvalidStrategy, s.ID, s.StopLossPrice, s.PriceMin)
		}
		if !(s.TakeProfitPrice > s.PriceMax) {
			return fmt.Errorf("%w: strategy %d take_profit %.4f must be above price_max %.4f", ErrInvalidStrategy, s.ID, s.TakeProfitPrice, s.PriceMax)
		}
	}
	return nil
}
