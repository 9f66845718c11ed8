package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"qmtrader/internal/logger"
)

// Task 是一次周期任务。返回的错误只记录，不会终止循环。
type Task func(ctx context.Context) error

// Interval 以固定频率执行任务；任务耗时超过间隔时跳过错过的节拍，同一个循环不会并发执行。
type Interval struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewInterval(name string, interval time.Duration, runImmediately bool) *Interval {
	return &Interval{
		Name:           name,
		Interval:       interval,
		RunImmediately: runImmediately,
		nowFn:          time.Now,
	}
}

func (s *Interval) prefix() string {
	if s.Name == "" {
		return "Interval"
	}
	return "Interval[" + s.Name + "]"
}

// Start 阻塞直到 ctx 结束。
func (s *Interval) Start(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("%s: task is nil", s.prefix())
	}
	if s.Interval <= 0 {
		return fmt.Errorf("%s: invalid interval=%s", s.prefix(), s.Interval)
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	prefix := s.prefix()
	anchor := s.nowFn()
	logger.Infof("%s: started interval=%s run_immediately=%v", prefix, s.Interval, s.RunImmediately)

	if s.RunImmediately {
		s.runOnce(ctx, task)
	}
	for {
		nextAt := nextFixedTimeAfter(anchor, s.Interval, s.nowFn())
		wait := nextAt.Sub(s.nowFn())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("%s: ctx done, exit", prefix)
			return nil
		case <-timer.C:
		}
		s.runOnce(ctx, task)
	}
}

func (s *Interval) runOnce(ctx context.Context, task Task) {
	if ctx.Err() != nil {
		return
	}
	start := s.nowFn()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("%s: task panic: %v\n%s", s.prefix(), r, debug.Stack())
		}
	}()
	if err := task(ctx); err != nil {
		logger.Warnf("%s: task failed after %s: %v", s.prefix(), s.nowFn().Sub(start).Truncate(time.Millisecond), err)
		return
	}
	if dur := s.nowFn().Sub(start); dur > s.Interval {
		logger.Warnf("%s: task took %s, longer than interval %s", s.prefix(), dur.Truncate(time.Millisecond), s.Interval)
	}
}

// nextFixedTimeAfter 返回 anchor + k*interval 中严格晚于 now 的最早时刻。
func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if !now.After(anchor) {
		return anchor.Add(interval)
	}
	k := now.Sub(anchor)/interval + 1
	return anchor.Add(k * interval)
}
