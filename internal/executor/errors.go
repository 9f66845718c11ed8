package executor

import "errors"

// 预期内的失败结果，作为 Result.Err 返回，不需要重试。
var (
	ErrInvalidParameters     = errors.New("InvalidParameters")
	ErrNoTradableQuantity    = errors.New("NoTradableQuantity")
	ErrSimulatedRejection    = errors.New("SimulatedRejection")
	ErrTradeFrequencyLimited = errors.New("TradeFrequencyLimited")
	ErrInsufficientFunds     = errors.New("InsufficientFunds")
	ErrInsufficientPosition  = errors.New("InsufficientPosition")
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial_success"
	OutcomeFailed  Outcome = "failed"
)

// RecordResult 映射到远端 execution_result 取值。
func (o Outcome) RecordResult() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	default:
		return "failed"
	}
}
