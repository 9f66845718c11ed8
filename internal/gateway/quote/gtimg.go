package quote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qmtrader/internal/market"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 腾讯行情字段下标（以 ~ 分隔）。
const (
	fieldName      = 1
	fieldCode      = 2
	fieldPrice     = 3
	fieldPrevClose = 4
	fieldOpen      = 5
	fieldVolume    = 6
	fieldTime      = 30
	fieldHigh      = 33
	fieldLow       = 34
	minFields      = 35
)

// GTimg 通过 qt.gtimg.cn 拉取 A 股/港股实时行情，响应为 GBK 编码。
type GTimg struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
}

func NewGTimg(baseURL string, timeout time.Duration, loc *time.Location) *GTimg {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &GTimg{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		loc:        loc,
	}
}

func (g *GTimg) Name() string { return "gtimg" }

func (g *GTimg) Quote(ctx context.Context, stockCode string) (market.Quote, error) {
	symbol := MarketSymbol(stockCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/q=%s", g.baseURL, symbol), nil)
	if err != nil {
		return market.Quote{}, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return market.Quote{}, fmt.Errorf("gtimg request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return market.Quote{}, fmt.Errorf("gtimg status=%d", resp.StatusCode)
	}
	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return market.Quote{}, fmt.Errorf("gtimg decode failed: %w", err)
	}
	return parseGTimg(string(body), stockCode, g.loc)
}

// MarketSymbol 为代码加交易所前缀：沪市 600/601/603/605/688 → sh，5 位港股 → hk，其余 → sz。
func MarketSymbol(code string) string {
	code = strings.TrimSpace(code)
	lower := strings.ToLower(code)
	if strings.HasPrefix(lower, "sh") || strings.HasPrefix(lower, "sz") || strings.HasPrefix(lower, "hk") {
		return lower
	}
	if len(code) == 5 {
		return "hk" + code
	}
	for _, p := range []string{"600", "601", "603", "605", "688"} {
		if strings.HasPrefix(code, p) {
			return "sh" + code
		}
	}
	return "sz" + code
}

func parseGTimg(body, stockCode string, loc *time.Location) (market.Quote, error) {
	start := strings.Index(body, "\"")
	end := strings.LastIndex(body, "\"")
	if start < 0 || end <= start {
		return market.Quote{}, fmt.Errorf("gtimg: malformed payload for %s", stockCode)
	}
	fields := strings.Split(body[start+1:end], "~")
	if len(fields) < minFields {
		return market.Quote{}, fmt.Errorf("gtimg: %s returned %d fields", stockCode, len(fields))
	}
	price := parseFloat(fields[fieldPrice])
	if price <= 0 {
		return market.Quote{}, fmt.Errorf("gtimg: %s has no price (suspended?)", stockCode)
	}
	q := market.Quote{
		StockCode: strings.TrimSpace(stockCode),
		Name:      strings.TrimSpace(fields[fieldName]),
		Price:     price,
		PrevClose: parseFloat(fields[fieldPrevClose]),
		Open:      parseFloat(fields[fieldOpen]),
		High:      parseFloat(fields[fieldHigh]),
		Low:       parseFloat(fields[fieldLow]),
		Timestamp: time.Now(),
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(fields[fieldVolume]), 10, 64); err == nil {
		q.Volume = v * 100 // 接口单位为手
	}
	if ts, err := time.ParseInLocation("20060102150405", strings.TrimSpace(fields[fieldTime]), loc); err == nil {
		q.Timestamp = ts
	}
	return q, nil
}

func parseFloat(raw string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return f
}
