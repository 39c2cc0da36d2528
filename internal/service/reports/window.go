package reports

import (
	"fmt"
	"strings"
	"time"
)

type Window string

const (
	WindowToday     Window = "today"
	WindowThisWeek  Window = "this_week"
	WindowThisMonth Window = "this_month"
	WindowAllTime   Window = "all_time"
)

func ParseWindow(value string) (Window, error) {
	key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	switch key {
	case "today":
		return WindowToday, nil
	case "thisweek", "week":
		return WindowThisWeek, nil
	case "thismonth", "month":
		return WindowThisMonth, nil
	case "alltime", "all", "":
		return WindowAllTime, nil
	default:
		return "", fmt.Errorf("unknown window %q", value)
	}
}

// Since returns the inclusive lower bound of the window. Weeks and months
// are rolling: seven days and one calendar month back from today's midnight.
// AllTime returns the zero time.
func (w Window) Since(now time.Time) time.Time {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch w {
	case WindowToday:
		return today
	case WindowThisWeek:
		return today.AddDate(0, 0, -7)
	case WindowThisMonth:
		return today.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}
