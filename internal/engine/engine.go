// Package engine 驱动两个周期：交易周期（取候选、估值、执行、记录）与健康检查周期。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qmtrader/internal/cache"
	"qmtrader/internal/executor"
	"qmtrader/internal/gateway/notifier"
	"qmtrader/internal/gateway/strategyapi"
	"qmtrader/internal/ledger"
	"qmtrader/internal/logger"
	"qmtrader/internal/market"
	"qmtrader/internal/recorder"
	"qmtrader/internal/store"
	"qmtrader/internal/strategy"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var log = logger.With("engine")

const (
	skipAlreadyCompleted = "already_completed"
	defaultWorkers       = 4
)

type CandidateSource interface {
	FetchCandidates(ctx context.Context, asOf time.Time) ([]strategy.Strategy, error)
	Invalidate()
}

type QuoteSource interface {
	Latest(ctx context.Context, stockCode string) (market.QuoteView, error)
	Prices(ctx context.Context, codes []string) map[string]float64
}

type Evaluator interface {
	Evaluate(s strategy.Strategy, quote market.QuoteView, at time.Time) (strategy.Decision, error)
}

type Executor interface {
	Execute(ctx context.Context, o executor.Order) executor.Result
}

type Recorder interface {
	Record(ctx context.Context, a recorder.Attempt) (store.ExecutionRecord, error)
	FlushPending(ctx context.Context) (recorder.FlushReport, error)
}

type Account interface {
	Snapshot() ledger.State
	MarkPrices(ctx context.Context, prices map[string]float64) (ledger.State, error)
}

type Prober interface {
	Probe(ctx context.Context) strategyapi.HealthReport
}

type PositionLister interface {
	ListPositions(ctx context.Context) ([]strategyapi.RemotePosition, error)
}

type Calendar interface {
	IsOpen(t time.Time) bool
	NextOpen(t time.Time) time.Time
	TradingDay(t time.Time) string
}

// ProgressView 本地生命周期进度，用来跳过已完成的策略。
type ProgressView interface {
	Completed(s strategy.Strategy) bool
}

// Sweeper 清理过期缓存条目。
type Sweeper interface {
	Sweep() int
}

type Deps struct {
	Candidates CandidateSource
	Quotes     QuoteSource
	Evaluator  Evaluator
	Executor   Executor
	Recorder   Recorder
	Account    Account
	Progress   ProgressView
	Calendar   Calendar
	Upstream   *cache.Upstream
	Prober     Prober
	Positions  PositionLister
	Notifier   notifier.Sender
	Sweepers   []Sweeper
	Workers    int
}

// CycleReport 最近一次交易周期的统计，供状态接口展示。
type CycleReport struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Candidates int       `json:"candidates"`
	Skipped    int       `json:"skipped"`
	Invalid    int       `json:"invalid"`
	Executed   int       `json:"executed"`
	Filled     int       `json:"filled"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted"`
	Error      string    `json:"error,omitempty"`
}

type cycleCounters struct {
	skipped, invalid, executed, filled, failed atomic.Int64
}

type Engine struct {
	deps    Deps
	workers atomic.Int32
	nowFn   func() time.Time

	last atomic.Pointer[CycleReport]

	hookMu sync.RWMutex
	onFill []func(executor.Result)
}

func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Candidates == nil:
		return nil, errors.New("engine: candidate source is nil")
	case deps.Quotes == nil:
		return nil, errors.New("engine: quote source is nil")
	case deps.Evaluator == nil:
		return nil, errors.New("engine: evaluator is nil")
	case deps.Executor == nil:
		return nil, errors.New("engine: executor is nil")
	case deps.Recorder == nil:
		return nil, errors.New("engine: recorder is nil")
	case deps.Account == nil:
		return nil, errors.New("engine: account is nil")
	case deps.Calendar == nil:
		return nil, errors.New("engine: calendar is nil")
	}
	if deps.Upstream == nil {
		deps.Upstream = cache.NewUpstream()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Nop{}
	}
	e := &Engine{deps: deps, nowFn: time.Now}
	e.SetWorkers(deps.Workers)
	return e, nil
}

// SetWorkers 调整交易周期的并发标的数，下一轮生效。
func (e *Engine) SetWorkers(n int) {
	if n <= 0 {
		n = defaultWorkers
	}
	e.workers.Store(int32(n))
}

// OnFill 注册成交回调（例如让账户视图缓存失效）。回调在工作协程里同步执行，需要很快返回。
func (e *Engine) OnFill(fn func(executor.Result)) {
	if fn == nil {
		return
	}
	e.hookMu.Lock()
	e.onFill = append(e.onFill, fn)
	e.hookMu.Unlock()
}

// LastCycle 返回最近一次完成的交易周期报告。
func (e *Engine) LastCycle() (CycleReport, bool) {
	r := e.last.Load()
	if r == nil {
		return CycleReport{}, false
	}
	return *r, true
}

type symbolGroup struct {
	code  string
	items []strategy.Strategy
}

// groupBySymbol 按首次出现的顺序分组，组内保持候选顺序。
func groupBySymbol(list []strategy.Strategy) []symbolGroup {
	index := make(map[string]int, len(list))
	var groups []symbolGroup
	for _, s := range list {
		i, ok := index[s.StockCode]
		if !ok {
			i = len(groups)
			index[s.StockCode] = i
			groups = append(groups, symbolGroup{code: s.StockCode})
		}
		groups[i].items = append(groups[i].items, s)
	}
	return groups
}

// RunCycle 执行一轮交易周期。不同标的并发处理，同一标的按候选顺序串行。
// ctx 取消后不再领取新策略，进行中的执行与记录照常完成。
// 账本持久化失败会中止本轮剩余策略并返回该错误。
func (e *Engine) RunCycle(ctx context.Context) error {
	now := e.nowFn()
	if !e.deps.Calendar.IsOpen(now) {
		log.Debugf("非交易时段，跳过本轮，下次开盘 %s", e.deps.Calendar.NextOpen(now).Format("2006-01-02 15:04"))
		return nil
	}
	report := CycleReport{ID: uuid.NewString(), StartedAt: now}
	defer func() {
		report.FinishedAt = e.nowFn()
		e.last.Store(&report)
	}()

	candidates, err := e.deps.Candidates.FetchCandidates(ctx, now)
	if err != nil {
		report.Aborted = true
		report.Error = err.Error()
		return fmt.Errorf("fetch candidates: %w", err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		log.Debugf("cycle %s: 无候选策略", report.ID)
		return nil
	}

	var counters cycleCounters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.workers.Load()))
	for _, grp := range groupBySymbol(candidates) {
		if gctx.Err() != nil {
			break
		}
		grp := grp
		g.Go(func() error {
			for _, s := range grp.items {
				if gctx.Err() != nil {
					return nil
				}
				if err := e.process(gctx, s, &counters); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()

	report.Skipped = int(counters.skipped.Load())
	report.Invalid = int(counters.invalid.Load())
	report.Executed = int(counters.executed.Load())
	report.Filled = int(counters.filled.Load())
	report.Failed = int(counters.failed.Load())
	if err != nil {
		report.Aborted = true
		report.Error = err.Error()
		log.Errorf("cycle %s 中止: %v", report.ID, err)
		return err
	}
	if ctx.Err() != nil {
		report.Aborted = true
	}
	log.Infof("cycle %s: candidates=%d executed=%d filled=%d failed=%d skipped=%d invalid=%d",
		report.ID, report.Candidates, report.Executed, report.Filled, report.Failed, report.Skipped, report.Invalid)
	return nil
}

// process 处理单个策略。只有账本持久化失败会返回错误。
func (e *Engine) process(ctx context.Context, s strategy.Strategy, c *cycleCounters) error {
	at := e.nowFn()
	quote, err := e.deps.Quotes.Latest(ctx, s.StockCode)
	if err != nil {
		c.skipped.Add(1)
		log.Warnf("策略 %d %s 无行情，跳过: %v", s.ID, s.StockCode, err)
		return nil
	}
	d, err := e.deps.Evaluator.Evaluate(s, quote, at)
	if err != nil {
		c.invalid.Add(1)
		e.logAt(Classify(err), "策略 %d 评估失败: %v", s.ID, err)
		return nil
	}
	if !d.Actionable() {
		c.skipped.Add(1)
		log.Debugf("策略 %d %s: %s", s.ID, s.StockCode, d)
		return nil
	}
	if d.Kind == strategy.DecisionExecute && e.deps.Progress != nil && e.deps.Progress.Completed(s) {
		c.skipped.Add(1)
		log.Debugf("策略 %d 已完成，跳过: %s", s.ID, skipAlreadyCompleted)
		return nil
	}
	if d.FullExit() {
		if pos, ok := e.deps.Account.Snapshot().Position(s.StockCode); !ok || pos.Quantity <= 0 {
			c.skipped.Add(1)
			log.Infof("策略 %d %s 触发 %s 但无持仓: %s", s.ID, s.StockCode, d.Kind, strategy.SkipNoPosition)
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	c.executed.Add(1)
	res := e.deps.Executor.Execute(ctx, executor.Order{Strategy: s, Decision: d})
	e.record(ctx, s, d, res)

	if res.Err != nil {
		c.failed.Add(1)
		sev := Classify(res.Err)
		e.logAt(sev, "策略 %d %s 执行失败: %v", s.ID, s.StockCode, res.Err)
		if ledger.IsPersistence(res.Err) {
			e.notify(alertMessage("账本持久化失败", fmt.Sprintf("策略 %d %s", s.ID, s.StockCode), res.Err, e.nowFn()))
			return fmt.Errorf("strategy %d: %w", s.ID, res.Err)
		}
		return nil
	}
	if res.Filled > 0 {
		c.filled.Add(1)
		e.deps.Candidates.Invalidate()
		e.fireFill(res)
		e.notify(fillMessage(s, d, res))
	}
	return nil
}

// record 每次执行器调用恰好记录一次。状态变化随记录一起提交，远端确认记录后才推送。
func (e *Engine) record(ctx context.Context, s strategy.Strategy, d strategy.Decision, res executor.Result) {
	action := res.Side
	if action == "" {
		action = d.Action
	}
	attempt := recorder.Attempt{
		StrategyID: s.ID,
		StockCode:  s.StockCode,
		Action:     string(action),
		Price:      res.Price,
		Volume:     res.Filled,
		Result:     res.Outcome.RecordResult(),
		Remarks:    res.Remarks,
		At:         res.At,
		TradingDay: res.TradingDay,
	}
	if res.Filled > 0 && (res.StatusChanged(s.ExecutionStatus) || res.Deactivate) {
		upd := &store.StatusUpdate{ExecutionStatus: string(res.Status)}
		if res.Deactivate {
			inactive := false
			upd.IsActive = &inactive
		}
		attempt.StatusUpdate = upd
	}
	if _, err := e.deps.Recorder.Record(context.WithoutCancel(ctx), attempt); err != nil {
		e.logAt(SeverityWarn, "策略 %d 执行记录未确认，等待补发: %v", s.ID, err)
	}
}

func (e *Engine) fireFill(res executor.Result) {
	e.hookMu.RLock()
	hooks := append(([]func(executor.Result))(nil), e.onFill...)
	e.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(res)
	}
}

func (e *Engine) notify(msg notifier.StructuredMessage) {
	if err := e.deps.Notifier.Send(msg); err != nil {
		log.Debugf("notify %q: %v", msg.Title, err)
	}
}

// HealthReport 一次健康检查的结果。
type HealthReport struct {
	CheckedAt         time.Time                    `json:"checked_at"`
	UpstreamAvailable bool                         `json:"upstream_available"`
	Flush             recorder.FlushReport         `json:"flush"`
	Priced            int                          `json:"priced"`
	Swept             int                          `json:"swept"`
	Endpoints         []strategyapi.EndpointHealth `json:"endpoints,omitempty"`
}

// RunHealthCheck 探测远端、更新可用性标记、补发 outbox、按最新价估值并落盘。
func (e *Engine) RunHealthCheck(ctx context.Context) error {
	report := HealthReport{CheckedAt: e.nowFn(), UpstreamAvailable: e.deps.Upstream.Available()}
	var errs []error

	if e.deps.Prober != nil {
		probe := e.deps.Prober.Probe(ctx)
		report.Endpoints = probe.Endpoints
		report.UpstreamAvailable = probe.AnyHealthy()
		if e.deps.Upstream.Set(report.UpstreamAvailable) {
			if report.UpstreamAvailable {
				log.Infof("策略服务恢复可用")
			} else {
				log.Warnf("策略服务不可用，进入缓存兜底")
			}
			e.notify(upstreamMessage(report.UpstreamAvailable, probe, e.nowFn()))
		}
	}

	if report.UpstreamAvailable {
		flush, err := e.deps.Recorder.FlushPending(ctx)
		report.Flush = flush
		if err != nil {
			errs = append(errs, fmt.Errorf("flush outbox: %w", err))
		} else if flush.Sent+flush.Failed+flush.StatusApplied > 0 {
			log.Infof("outbox: sent=%d failed=%d status_applied=%d status_deferred=%d",
				flush.Sent, flush.Failed, flush.StatusApplied, flush.StatusDeferred)
		}
	}

	codes := e.deps.Account.Snapshot().Codes()
	prices := e.deps.Quotes.Prices(ctx, codes)
	report.Priced = len(prices)
	if _, err := e.deps.Account.MarkPrices(context.WithoutCancel(ctx), prices); err != nil {
		if ledger.IsPersistence(err) {
			e.notify(alertMessage("账本持久化失败", "健康检查估值", err, e.nowFn()))
		}
		errs = append(errs, fmt.Errorf("mark prices: %w", err))
	}

	for _, sw := range e.deps.Sweepers {
		report.Swept += sw.Sweep()
	}
	log.Debugf("health: upstream=%v priced=%d/%d swept=%d", report.UpstreamAvailable, report.Priced, len(codes), report.Swept)
	return errors.Join(errs...)
}

// Reconcile 启动时对比远端持仓与本地账本，只告警不修改，本地账本为准。
func (e *Engine) Reconcile(ctx context.Context) ([]string, error) {
	if e.deps.Positions == nil {
		return nil, nil
	}
	remote, err := e.deps.Positions.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote positions: %w", err)
	}
	local := e.deps.Account.Snapshot()
	seen := make(map[string]struct{}, len(remote))
	var mismatches []string
	for _, rp := range remote {
		if rp.StockCode == "" {
			continue
		}
		seen[rp.StockCode] = struct{}{}
		lp, _ := local.Position(rp.StockCode)
		if lp.Quantity != rp.Quantity {
			mismatches = append(mismatches, fmt.Sprintf("%s local=%d remote=%d", rp.StockCode, lp.Quantity, rp.Quantity))
		}
	}
	for _, code := range local.Codes() {
		if _, ok := seen[code]; ok {
			continue
		}
		lp, _ := local.Position(code)
		mismatches = append(mismatches, fmt.Sprintf("%s local=%d remote=0", code, lp.Quantity))
	}
	for _, m := range mismatches {
		log.Warnf("持仓对账不一致: %s", m)
	}
	if len(mismatches) == 0 {
		log.Infof("持仓对账一致，共 %d 个标的", len(remote))
	}
	return mismatches, nil
}
