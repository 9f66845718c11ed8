package engine

import (
	"errors"

	"qmtrader/internal/executor"
	"qmtrader/internal/gateway/strategyapi"
	"qmtrader/internal/ledger"
	"qmtrader/internal/recorder"
	"qmtrader/internal/strategy"
)

// 各包产生的错误在这里汇总，调用方只需要 errors.Is。
var (
	ErrInput                = strategy.ErrInvalidStrategy
	ErrUpstreamUnavailable  = strategyapi.ErrUpstreamUnavailable
	ErrInsufficientFunds    = executor.ErrInsufficientFunds
	ErrInsufficientPosition = executor.ErrInsufficientPosition
	ErrSimulatedRejection   = executor.ErrSimulatedRejection
	ErrRecordingFailed      = recorder.ErrRecordingFailed
)

type Severity int

const (
	// SeverityInfo 预期内的交易结果。
	SeverityInfo Severity = iota
	// SeverityWarn 触及限额或输入有误，需要关注但不影响运行。
	SeverityWarn
	// SeverityError 基础设施故障。
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	default:
		return "error"
	}
}

// Classify 决定错误的日志级别。
func Classify(err error) Severity {
	switch {
	case err == nil:
		return SeverityInfo
	case ledger.IsPersistence(err),
		errors.Is(err, ledger.ErrStopped),
		errors.Is(err, ErrRecordingFailed),
		errors.Is(err, ErrUpstreamUnavailable):
		return SeverityError
	case errors.Is(err, ErrInput),
		errors.Is(err, executor.ErrInvalidParameters),
		errors.Is(err, executor.ErrTradeFrequencyLimited),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientPosition):
		return SeverityWarn
	case errors.Is(err, ErrSimulatedRejection),
		errors.Is(err, executor.ErrNoTradableQuantity):
		return SeverityInfo
	default:
		return SeverityError
	}
}

func (e *Engine) logAt(sev Severity, format string, args ...any) {
	switch sev {
	case SeverityInfo:
		log.Infof(format, args...)
	case SeverityWarn:
		log.Warnf(format, args...)
	default:
		log.Errorf(format, args...)
	}
}
