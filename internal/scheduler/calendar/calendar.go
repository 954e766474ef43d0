package calendar

import (
	"time"

	"twstock-scheduler/pkg/common"
)

// Taiwan Stock Exchange closure calendar. Weekends are always closed; the
// tables below list the announced exchange holidays and need a yearly
// refresh when TWSE publishes the next calendar.
var twseHolidays = []string{
	// 2025
	"2025-01-01", // 元旦
	"2025-01-27", // 農曆除夕前
	"2025-01-28", // 農曆除夕
	"2025-01-29", // 春節
	"2025-01-30", // 春節
	"2025-01-31", // 春節
	"2025-02-28", // 和平紀念日
	"2025-04-03", // 兒童節（調整放假）
	"2025-04-04", // 清明節
	"2025-05-01", // 勞動節
	"2025-05-30", // 端午節（調整放假）
	"2025-05-31", // 端午節（週六補假）
	"2025-10-06", // 中秋節
	"2025-10-10", // 國慶日
	// 2026
	"2026-01-01", // 元旦
	"2026-01-02", // 彈性放假
	"2026-02-16", // 農曆除夕前
	"2026-02-17", // 農曆除夕
	"2026-02-18", // 春節
	"2026-02-19", // 春節
	"2026-02-20", // 春節
	"2026-02-27", // 和平紀念日（調整放假）
	"2026-02-28", // 和平紀念日（週六）
	"2026-04-03", // 兒童節（調整放假）
	"2026-04-04", // 清明節（週六）
	"2026-04-05", // 清明節
	"2026-05-01", // 勞動節
	"2026-06-19", // 端午節
	"2026-09-25", // 中秋節
	"2026-10-09", // 國慶日（調整放假）
	"2026-10-10", // 國慶日（週六）
}

var holidaySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(twseHolidays))
	for _, d := range twseHolidays {
		set[d] = struct{}{}
	}
	return set
}()

// IsTradingDay reports whether the market is open on the given date. Only
// the calendar date matters; the clock time and location are ignored.
func IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := holidaySet[t.Format(common.DateLayout)]
	return !closed
}

// NextTradingDay returns the first trading day strictly after t.
func NextTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// PreviousTradingDay returns the last trading day strictly before t.
func PreviousTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, -1)
	for !IsTradingDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
