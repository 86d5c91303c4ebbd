package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatCurrency formats an amount in dollars with thousands separators.
func FormatCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	parts := strings.SplitN(s, ".", 2)
	return sign + "$" + groupThousands(parts[0]) + "." + parts[1]
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatPrice formats an optional price; a missing value prints as "-".
func FormatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return FormatCurrency(*p)
}

// FormatChange formats an optional signed change.
func FormatChange(p *float64) string {
	if p == nil {
		return "-"
	}
	if *p > 0 {
		return fmt.Sprintf("+%.2f", *p)
	}
	return fmt.Sprintf("%.2f", *p)
}

// FormatPercent formats an optional signed percentage.
func FormatPercent(p *float64) string {
	if p == nil {
		return "-"
	}
	if *p > 0 {
		return fmt.Sprintf("+%.2f%%", *p)
	}
	return fmt.Sprintf("%.2f%%", *p)
}

// FormatVolume formats an optional volume in compact K/M/B notation.
func FormatVolume(p *float64) string {
	if p == nil {
		return "-"
	}
	v := *p
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// FormatTime formats an optional timestamp in local time.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// TruncateString truncates s to maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
