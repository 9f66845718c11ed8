package notifier

import (
	"context"
	"errors"

	"qmtrader/internal/logger"
)

var log = logger.With("notifier")

var ErrQueueFull = errors.New("notifier queue full")

// Dispatcher 异步投递消息，交易循环不会因为推送变慢而阻塞。
type Dispatcher struct {
	text TextNotifier
	ch   chan StructuredMessage
}

func NewDispatcher(text TextNotifier, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{text: text, ch: make(chan StructuredMessage, buffer)}
}

// Send 入队；队列满时丢弃并返回 ErrQueueFull。
func (d *Dispatcher) Send(msg StructuredMessage) error {
	select {
	case d.ch <- msg:
		return nil
	default:
		log.Warnf("通知队列已满，丢弃消息: %s", msg.Title)
		return ErrQueueFull
	}
}

// Run 持续消费队列直到 ctx 结束，退出前尽量把已入队的消息发完。
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return nil
		case msg := <-d.ch:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case msg := <-d.ch:
			d.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg StructuredMessage) {
	if err := d.text.SendText(ctx, msg.RenderMarkdown()); err != nil {
		log.Warnf("发送通知失败 (%s): %v", msg.Title, err)
	}
}
