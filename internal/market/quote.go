package market

import "time"

// Quote 实时行情快照，只存在于缓存中。
type Quote struct {
	StockCode string    `json:"stock_code"`
	Name      string    `json:"name,omitempty"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close,omitempty"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// QuoteView 带上取数时的缓存年龄，调用方据此判断行情新鲜度。
type QuoteView struct {
	Quote
	Age time.Duration `json:"age"`
}

// DeviationFrom 返回相对昨收的涨跌幅绝对值；缺少昨收时 ok=false。
func (q Quote) DeviationFrom() (float64, bool) {
	if q.PrevClose <= 0 || q.Price <= 0 {
		return 0, false
	}
	d := (q.Price - q.PrevClose) / q.PrevClose
	if d < 0 {
		d = -d
	}
	return d, true
}
