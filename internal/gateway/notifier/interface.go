package notifier

import "context"

// TextNotifier 最小的文本推送接口，具体渠道（Telegram 等）实现它。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Sender 接收结构化消息。引擎只依赖这个接口。
type Sender interface {
	Send(msg StructuredMessage) error
}

// Nop 丢弃所有消息，未配置通知渠道时使用。
type Nop struct{}

func (Nop) Send(StructuredMessage) error { return nil }
