package statushttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qmtrader/internal/cache"
	"qmtrader/internal/engine"
	"qmtrader/internal/ledger"
	"qmtrader/internal/store"
	"qmtrader/internal/strategy"

	"github.com/gin-gonic/gin"
)

type AccountSource interface {
	Snapshot() ledger.State
}

type CandidateSource interface {
	Cached() ([]strategy.Strategy, time.Duration, bool)
}

type ExecutionSource interface {
	ListExecutions(ctx context.Context, q store.ExecutionQuery) ([]store.ExecutionRecord, error)
	CountUnsent(ctx context.Context) (int, error)
}

type CycleSource interface {
	LastCycle() (engine.CycleReport, bool)
}

type UpstreamSource interface {
	Available() bool
	ChangedAt() time.Time
}

const (
	accountKey       = "account"
	defaultListLimit = 50
	maxListLimit     = 500
)

// PositionView 单个持仓的展示视图。
type PositionView struct {
	StockCode   string  `json:"stock_code"`
	Quantity    int64   `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
	LastPrice   float64 `json:"last_price"`
	MarketValue float64 `json:"market_value"`
}

type AccountView struct {
	Cash        float64        `json:"cash"`
	TotalAssets float64        `json:"total_assets"`
	MarketValue float64        `json:"market_value"`
	LastUpdated time.Time      `json:"last_updated"`
	Positions   []PositionView `json:"positions"`
}

// Router 挂载 /api 下的只读查询。
type Router struct {
	cfg      ServerConfig
	accounts *cache.TTL[AccountView]
}

func NewRouter(cfg ServerConfig) *Router {
	ttl := cfg.PositionTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Router{cfg: cfg, accounts: cache.NewTTL[AccountView](ttl)}
}

// InvalidateAccount 成交后调用，下一次请求重新生成账户视图。
func (r *Router) InvalidateAccount() {
	r.accounts.Delete(accountKey)
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/account", r.handleAccount)
	group.GET("/strategies", r.handleStrategies)
	group.GET("/executions", r.handleExecutions)
}

func (r *Router) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if r.cfg.Upstream != nil {
		resp["upstream_available"] = r.cfg.Upstream.Available()
		resp["upstream_changed_at"] = r.cfg.Upstream.ChangedAt()
	}
	if r.cfg.Cycles != nil {
		if report, ok := r.cfg.Cycles.LastCycle(); ok {
			resp["last_cycle"] = report
		}
	}
	if r.cfg.Executions != nil {
		if n, err := r.cfg.Executions.CountUnsent(c.Request.Context()); err == nil {
			resp["unsent_executions"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleAccount(c *gin.Context) {
	if view, age, ok := r.accounts.Get(accountKey); ok {
		c.Header("X-Cache-Age", age.Truncate(time.Millisecond).String())
		c.JSON(http.StatusOK, view)
		return
	}
	view := buildAccountView(r.cfg.Account.Snapshot())
	r.accounts.Set(accountKey, view)
	c.JSON(http.StatusOK, view)
}

func buildAccountView(st ledger.State) AccountView {
	view := AccountView{
		Cash:        st.Cash,
		TotalAssets: st.TotalAssets,
		MarketValue: st.MarketValue(),
		LastUpdated: st.LastUpdated,
		Positions:   make([]PositionView, 0, len(st.Positions)),
	}
	for _, code := range st.Codes() {
		p, _ := st.Position(code)
		view.Positions = append(view.Positions, PositionView{
			StockCode:   code,
			Quantity:    p.Quantity,
			AverageCost: p.AverageCost,
			LastPrice:   p.LastPrice,
			MarketValue: float64(p.Quantity) * p.LastPrice,
		})
	}
	return view
}

func (r *Router) handleStrategies(c *gin.Context) {
	if r.cfg.Candidates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "candidate source not configured"})
		return
	}
	list, age, ok := r.cfg.Candidates.Cached()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"items": []strategy.Strategy{}, "cached": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "cached": true, "age": age.Truncate(time.Millisecond).String()})
}

func (r *Router) handleExecutions(c *gin.Context) {
	if r.cfg.Executions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution store not configured"})
		return
	}
	q := store.ExecutionQuery{
		StockCode:  strings.TrimSpace(c.Query("stock_code")),
		UnsentOnly: c.Query("unsent") == "true" || c.Query("unsent") == "1",
		Limit:      defaultListLimit,
	}
	if raw := strings.TrimSpace(c.Query("strategy_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy_id"})
			return
		}
		q.StrategyID = id
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		q.Limit = n
	}
	items, err := r.cfg.Executions.ListExecutions(c.Request.Context(), q)
	if err != nil {
		log.Errorf("list executions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}
