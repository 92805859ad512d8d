package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Due-date keyword prefixes shared by the absolute patterns.
const duePrefix = `(?i)(?:due\s+(?:by|on|date:?)?|payable\s+(?:before|by)|expires?\s*(?:on)?|deadline:?)\s*`

var (
	// Absolute forms, tried first.
	dueMonthNameRe = regexp.MustCompile(duePrefix + `((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})`)
	dueNumericRe   = regexp.MustCompile(duePrefix + `(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})`)
	dueISORe       = regexp.MustCompile(duePrefix + `(\d{4})-(\d{2})-(\d{2})`)

	// Relative fallbacks.
	dueTodayRe    = regexp.MustCompile(`(?i)\bdue\s+today\b`)
	dueTomorrowRe = regexp.MustCompile(`(?i)\bdue\s+tomorrow\b`)
	dueInDaysRe   = regexp.MustCompile(`(?i)\bdue\s+in\s+(\d{1,3})\s+days?\b`)
	overdueRe     = regexp.MustCompile(`(?i)\b(overdue|past\s+due)\b`)

	monthNames = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// ParseDueDate extracts a due date from text. Absolute date forms are
// tried first, then relative keywords anchored at the local midnight of
// now. Returns nil when no due date is present.
func ParseDueDate(text string, now time.Time) *model.DueDate {
	ref := midnight(now)

	if m := dueISORe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if d, ok := makeDate(year, month, day, now.Location()); ok {
			return dueDateFrom(d, m[0], ref)
		}
	}

	if m := dueMonthNameRe.FindStringSubmatch(text); m != nil {
		if d, ok := parseMonthNameDate(m[1], now.Location()); ok {
			return dueDateFrom(d, m[0], ref)
		}
	}

	if m := dueNumericRe.FindStringSubmatch(text); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		// Locale-unsafe heuristic: assume A is the day only when it cannot
		// be a month, otherwise assume US month-first ordering.
		month, day := a, b
		if a > 12 {
			month, day = b, a
		}
		if d, ok := makeDate(year, month, day, now.Location()); ok {
			return dueDateFrom(d, m[0], ref)
		}
	}

	switch {
	case dueTodayRe.MatchString(text):
		return dueDateFrom(ref, "due today", ref)
	case dueTomorrowRe.MatchString(text):
		return dueDateFrom(ref.AddDate(0, 0, 1), "due tomorrow", ref)
	}
	if m := dueInDaysRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return dueDateFrom(ref.AddDate(0, 0, n), m[0], ref)
	}
	if m := overdueRe.FindStringSubmatch(text); m != nil {
		return dueDateFrom(ref.AddDate(0, 0, -1), m[0], ref)
	}

	return nil
}

func parseMonthNameDate(raw string, loc *time.Location) (time.Time, bool) {
	parts := strings.Fields(strings.ToLower(raw))
	if len(parts) < 3 {
		return time.Time{}, false
	}
	prefix := strings.TrimSuffix(parts[0], ".")
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	month, ok := monthNames[prefix]
	if !ok {
		return time.Time{}, false
	}
	dayStr := strings.TrimRight(parts[1], ",")
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		dayStr = strings.TrimSuffix(dayStr, suffix)
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, false
	}
	return makeDate(year, int(month), day, loc)
}

func makeDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// Reject normalized overflow like Feb 30.
	if d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func dueDateFrom(date time.Time, raw string, ref time.Time) *model.DueDate {
	days := calendarDays(ref, date)
	return &model.DueDate{
		Date:      date,
		Raw:       strings.TrimSpace(raw),
		ISO:       date.Format("2006-01-02"),
		DaysUntil: days,
		Overdue:   days < 0,
	}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// calendarDays counts whole calendar days from a to b. Both dates are
// remapped to UTC midnights first so a DST transition between them
// cannot shave the elapsed time under a multiple of 24h.
func calendarDays(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}
