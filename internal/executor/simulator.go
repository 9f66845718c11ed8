package executor

import (
	"math/rand"
	"sync"
	"time"

	"qmtrader/internal/config"
	"qmtrader/internal/pkg/money"
)

// FillModel 决定一笔委托实际成交多少股。
type FillModel interface {
	Fill(requested, lot int64) int64
}

// Simulator 按配置的概率注入拒单与部分成交，seed 固定时结果可复现。
type Simulator struct {
	mu           sync.Mutex
	rng          *rand.Rand
	rejectRate   float64
	partialRate  float64
	partialRatio float64
}

func NewSimulator(cfg config.SimulationConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ratio := cfg.PartialFillRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &Simulator{
		rng:          rand.New(rand.NewSource(seed)),
		rejectRate:   cfg.RejectRate,
		partialRate:  cfg.PartialFillRate,
		partialRatio: ratio,
	}
}

func (s *Simulator) Fill(requested, lot int64) int64 {
	if requested <= 0 {
		return 0
	}
	if s.rejectRate <= 0 && s.partialRate <= 0 {
		return requested
	}
	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()
	switch {
	case roll < s.rejectRate:
		return 0
	case roll < s.rejectRate+s.partialRate:
		partial := money.FloorToStep(int64(float64(requested)*s.partialRatio), lot)
		if partial <= 0 || partial >= requested {
			// 一手无法再拆分
			return requested
		}
		return partial
	default:
		return requested
	}
}

// FixedFill 测试用：按给定序列依次返回成交比例。
type FixedFill struct {
	mu     sync.Mutex
	ratios []float64
}

func NewFixedFill(ratios ...float64) *FixedFill {
	return &FixedFill{ratios: ratios}
}

func (f *FixedFill) Fill(requested, lot int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ratio := 1.0
	if len(f.ratios) > 0 {
		ratio = f.ratios[0]
		f.ratios = f.ratios[1:]
	}
	if ratio >= 1 {
		return requested
	}
	return money.FloorToStep(int64(float64(requested)*ratio), lot)
}
