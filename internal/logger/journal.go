package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

var (
	journalMu  sync.Mutex
	journalLog *log.Logger
)

// SetJournalWriter 设置成交流水的独立输出；nil 表示关闭。
func SetJournalWriter(w io.Writer) {
	journalMu.Lock()
	defer journalMu.Unlock()
	if w == nil {
		journalLog = nil
		return
	}
	journalLog = log.New(w, "", log.LstdFlags)
}

type JournalField struct {
	Key   string
	Value string
}

// F 构造流水字段，浮点数保留四位小数。
func F(key string, v any) JournalField {
	switch t := v.(type) {
	case float64:
		return JournalField{Key: key, Value: fmt.Sprintf("%.4f", t)}
	case string:
		return JournalField{Key: key, Value: t}
	default:
		return JournalField{Key: key, Value: fmt.Sprint(v)}
	}
}

// Journal 写一条成交流水，格式: [TRADE][kind][symbol] k=v k=v
func Journal(kind, symbol string, fields ...JournalField) {
	journalMu.Lock()
	l := journalLog
	journalMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[TRADE]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if symbol != "" {
		b.WriteString("[")
		b.WriteString(symbol)
		b.WriteString("]")
	}
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(strings.TrimSpace(f.Value))
	}
	l.Print(b.String())
}
