package util

import (
	"fmt"
	"time"
)

// WeekKey ISO 年-周字符串，如 2026-35，周号补零
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-%02d", year, week)
}

// WeekWindow 返回 t 所在 ISO 周的起止（周一 00:00 到周日 23:59:59）
func WeekWindow(t time.Time) (time.Time, time.Time) {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 0, 7).Add(-time.Second)
	return start, end
}
