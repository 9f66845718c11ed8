// Package calendar 判断某一时刻是否处于 A 股交易时段。
package calendar

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"qmtrader/internal/config"

	"gopkg.in/yaml.v3"
)

type session struct {
	start time.Duration
	end   time.Duration
}

// Calendar 由交易日（ISO weekday）、日内时段和节假日组成。时段两端均包含。
type Calendar struct {
	loc      *time.Location
	days     map[time.Weekday]bool
	sessions []session
	holidays map[string]string
}

// Holiday 节假日文件中的一项。
type Holiday struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

type holidayFile struct {
	Holidays []Holiday `yaml:"holidays"`
}

func New(cfg config.TradingConfig) (*Calendar, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar: load timezone %s: %w", tz, err)
	}
	c := &Calendar{
		loc:      loc,
		days:     make(map[time.Weekday]bool, len(cfg.TradingDays)),
		holidays: make(map[string]string),
	}
	for _, d := range cfg.TradingDays {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("calendar: invalid trading day %d", d)
		}
		c.days[time.Weekday(d%7)] = true
	}
	for _, raw := range cfg.Sessions {
		start, end, err := config.ParseSession(raw)
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		c.sessions = append(c.sessions, session{start: start, end: end})
	}
	sort.Slice(c.sessions, func(i, j int) bool { return c.sessions[i].start < c.sessions[j].start })
	if path := strings.TrimSpace(cfg.HolidaysFile); path != "" {
		if err := c.loadHolidays(path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Calendar) loadHolidays(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("calendar: open holidays: %w", err)
	}
	defer f.Close()
	var file holidayFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("calendar: decode holidays: %w", err)
	}
	for _, h := range file.Holidays {
		d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(h.Date), c.loc)
		if err != nil {
			return fmt.Errorf("calendar: holiday date %q: %w", h.Date, err)
		}
		c.holidays[d.Format("2006-01-02")] = strings.TrimSpace(h.Name)
	}
	return nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// TradingDay 返回 t 在交易所时区下的日期键。
func (c *Calendar) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// IsTradingDay 判断星期与节假日。
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	if !c.days[local.Weekday()] {
		return false
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}

func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	offset := sinceMidnight(t.In(c.loc))
	for _, s := range c.sessions {
		if offset >= s.start && offset <= s.end {
			return true
		}
	}
	return false
}

// NextOpen 返回不早于 t 的下一个可交易时刻；两周内找不到返回零值。
func (c *Calendar) NextOpen(t time.Time) time.Time {
	if c.IsOpen(t) {
		return t
	}
	local := t.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for day := 0; day < 14; day++ {
		base := midnight.AddDate(0, 0, day)
		if !c.IsTradingDay(base) {
			continue
		}
		for _, s := range c.sessions {
			candidate := base.Add(s.start)
			if candidate.After(local) {
				return candidate
			}
		}
	}
	return time.Time{}
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}
