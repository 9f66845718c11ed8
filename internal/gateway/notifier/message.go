package notifier

import (
	"strings"
	"time"

	"qmtrader/internal/pkg/text"
)

// Telegram 单条消息上限 4096，留出转义余量。
const maxStructuredMessageLen = 3800

// Telegram legacy Markdown 只识别这四个控制字符。
var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// MessageSection 是一段带小标题的明细，空行会被丢弃。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的推送：成交、持久化告警、远端可用性变化。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 输出 Telegram Markdown：标题加粗，明细逐行列出，超长截断。
func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, len(m.Sections)+3)
	if head := strings.TrimSpace(m.Icon + " " + bold(m.Title)); head != "" {
		parts = append(parts, head)
	}
	for _, sec := range m.Sections {
		if block := sec.render(); block != "" {
			parts = append(parts, block)
		}
	}
	var tail []string
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		tail = append(tail, "_"+escape(footer)+"_")
	}
	if !m.Timestamp.IsZero() {
		tail = append(tail, "时间："+m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	if len(tail) > 0 {
		parts = append(parts, strings.Join(tail, "\n"))
	}
	return text.Truncate(strings.Join(parts, "\n\n"), maxStructuredMessageLen)
}

func (s MessageSection) render() string {
	var lines []string
	for _, line := range s.Lines {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, "• "+escape(line))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if title := strings.TrimSpace(s.Title); title != "" {
		lines = append([]string{bold(title)}, lines...)
	}
	return strings.Join(lines, "\n")
}

func bold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return "*" + escape(s) + "*"
}

func escape(s string) string { return markdownEscaper.Replace(s) }
