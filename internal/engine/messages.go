package engine

import (
	"fmt"
	"time"

	"qmtrader/internal/executor"
	"qmtrader/internal/gateway/notifier"
	"qmtrader/internal/gateway/strategyapi"
	"qmtrader/internal/strategy"
)

func fillMessage(s strategy.Strategy, d strategy.Decision, res executor.Result) notifier.StructuredMessage {
	icon := "✅"
	switch d.Kind {
	case strategy.DecisionStopLoss:
		icon = "🛑"
	case strategy.DecisionTakeProfit:
		icon = "💰"
	}
	name := s.StockCode
	if s.StockName != "" {
		name = s.StockCode + " " + s.StockName
	}
	lines := []string{
		fmt.Sprintf("方向：%s", res.Side),
		fmt.Sprintf("成交：%d/%d 股 @ %.2f", res.Filled, res.Requested, res.Price),
		fmt.Sprintf("费用：%.2f", res.Fees.Total),
		fmt.Sprintf("状态：%s -> %s", s.ExecutionStatus, res.Status),
	}
	if res.Deactivate {
		lines = append(lines, "策略已停用")
	}
	return notifier.StructuredMessage{
		Icon:      icon,
		Title:     fmt.Sprintf("成交 %s", name),
		Sections:  []notifier.MessageSection{{Title: "明细", Lines: lines}},
		Footer:    fmt.Sprintf("策略 #%d · %s", s.ID, res.Remarks),
		Timestamp: res.At,
	}
}

func alertMessage(title, subject string, err error, at time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:      "⚠️",
		Title:     title,
		Sections:  []notifier.MessageSection{{Title: subject, Lines: []string{err.Error()}}},
		Timestamp: at,
	}
}

func upstreamMessage(available bool, probe strategyapi.HealthReport, at time.Time) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{Icon: "🔌", Title: "策略服务不可用", Timestamp: at}
	if available {
		msg.Icon = "🔁"
		msg.Title = "策略服务恢复"
	}
	lines := make([]string, 0, len(probe.Endpoints))
	for _, ep := range probe.Endpoints {
		if ep.Healthy {
			lines = append(lines, fmt.Sprintf("%s OK %s (%s)", ep.BaseURL, ep.Path, ep.Latency.Truncate(time.Millisecond)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s DOWN %s", ep.BaseURL, ep.Err))
	}
	msg.Sections = []notifier.MessageSection{{Title: "地址", Lines: lines}}
	return msg
}
