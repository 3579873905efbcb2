package fsm

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDateUnrecognized = errors.New("fsm: date not recognized")
	ErrDateInFuture     = errors.New("fsm: date is in the future")
	ErrDateTooOld       = errors.New("fsm: date is outside the claim window")
)

const dateLayout = "2006-01-02"

var (
	slashDatePattern = regexp.MustCompile(`^(\d{1,2})[/.](\d{1,2})(?:[/.](\d{2}|\d{4}))?$`)
	isoDatePattern   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	namedDatePattern = regexp.MustCompile(`^(\d{1,2})(?:ST|ND|RD|TH)?\s+([A-Z]+)\.?(?:\s+(\d{4}))?$`)

	clock24Pattern   = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})$`)
	compact24Pattern = regexp.MustCompile(`^(\d{2})(\d{2})$`)
	clock12Pattern   = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?\s*(AM|PM)$`)

	otpPattern        = regexp.MustCompile(`^\d{6}$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	stationSplitters  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s+to\s+`),
		regexp.MustCompile(`\s+-\s+`),
		regexp.MustCompile(`-`),
	}
	stationPrefix = regexp.MustCompile(`(?i)^from\s+`)
)

var monthNames = map[string]time.Month{
	"JAN": time.January, "JANUARY": time.January,
	"FEB": time.February, "FEBRUARY": time.February,
	"MAR": time.March, "MARCH": time.March,
	"APR": time.April, "APRIL": time.April,
	"MAY": time.May,
	"JUN": time.June, "JUNE": time.June,
	"JUL": time.July, "JULY": time.July,
	"AUG": time.August, "AUGUST": time.August,
	"SEP": time.September, "SEPT": time.September, "SEPTEMBER": time.September,
	"OCT": time.October, "OCTOBER": time.October,
	"NOV": time.November, "NOVEMBER": time.November,
	"DEC": time.December, "DECEMBER": time.December,
}

// ParseDate reads a travel date relative to now. Accepted forms are today,
// yesterday, DD/MM, DD/MM/YYYY, YYYY-MM-DD and "D Mon [YYYY]". A date
// without a year that would fall after today is taken from the previous
// year. The result is midnight in now's location.
func ParseDate(text string, now time.Time) (time.Time, error) {
	normalized := Normalize(text)
	today := midnight(now)
	loc := now.Location()

	switch normalized {
	case "":
		return time.Time{}, ErrDateUnrecognized
	case "TODAY":
		return today, nil
	case "YESTERDAY":
		return today.AddDate(0, 0, -1), nil
	}

	if match := isoDatePattern.FindStringSubmatch(normalized); match != nil {
		return buildDate(atoi(match[1]), atoi(match[2]), atoi(match[3]), loc)
	}
	if match := slashDatePattern.FindStringSubmatch(normalized); match != nil {
		day, month := atoi(match[1]), atoi(match[2])
		if match[3] == "" {
			return inferYear(day, time.Month(month), today)
		}
		year := atoi(match[3])
		if len(match[3]) == 2 {
			year += 2000
		}
		return buildDate(year, month, day, loc)
	}
	if match := namedDatePattern.FindStringSubmatch(normalized); match != nil {
		month, ok := monthNames[match[2]]
		if !ok {
			return time.Time{}, ErrDateUnrecognized
		}
		if match[3] == "" {
			return inferYear(atoi(match[1]), month, today)
		}
		return buildDate(atoi(match[3]), int(month), atoi(match[1]), loc)
	}
	return time.Time{}, ErrDateUnrecognized
}

// ValidateTravelDate rejects dates after today and dates older than
// windowDays.
func ValidateTravelDate(date time.Time, now time.Time, windowDays int) error {
	today := midnight(now)
	date = midnight(date.In(now.Location()))
	if date.After(today) {
		return ErrDateInFuture
	}
	if windowDays > 0 && date.Before(today.AddDate(0, 0, -windowDays)) {
		return ErrDateTooOld
	}
	return nil
}

// ParseStations splits "[from] X to Y" or "X - Y" into origin and
// destination.
func ParseStations(text string) (string, string, bool) {
	cleaned := whitespacePattern.ReplaceAllString(strings.TrimSpace(text), " ")
	cleaned = stationPrefix.ReplaceAllString(cleaned, "")
	for _, splitter := range stationSplitters {
		parts := splitter.Split(cleaned, 2)
		if len(parts) != 2 {
			continue
		}
		origin := strings.TrimSpace(parts[0])
		destination := strings.TrimSpace(parts[1])
		if origin == "" || destination == "" {
			return "", "", false
		}
		if strings.EqualFold(origin, destination) {
			return "", "", false
		}
		return origin, destination, true
	}
	return "", "", false
}

// ParseTime reads HH:MM, HHMM or H[:MM]am/pm and returns a 24 hour HH:MM.
func ParseTime(text string) (string, bool) {
	normalized := strings.ReplaceAll(Normalize(text), ".M.", "M")
	normalized = strings.ReplaceAll(normalized, "A.M", "AM")
	normalized = strings.ReplaceAll(normalized, "P.M", "PM")

	if match := clock12Pattern.FindStringSubmatch(normalized); match != nil {
		hour := atoi(match[1])
		minute := 0
		if match[2] != "" {
			minute = atoi(match[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return "", false
		}
		hour %= 12
		if match[3] == "PM" {
			hour += 12
		}
		return formatClock(hour, minute), true
	}
	for _, pattern := range []*regexp.Regexp{clock24Pattern, compact24Pattern} {
		if match := pattern.FindStringSubmatch(normalized); match != nil {
			hour, minute := atoi(match[1]), atoi(match[2])
			if hour > 23 || minute > 59 {
				return "", false
			}
			return formatClock(hour, minute), true
		}
	}
	return "", false
}

// ParseOTP accepts a six digit code, ignoring spaces between digits.
func ParseOTP(text string) (string, bool) {
	code := whitespacePattern.ReplaceAllString(strings.TrimSpace(text), "")
	if !otpPattern.MatchString(code) {
		return "", false
	}
	return code, true
}

// ParseChoice reads a 1-based option number in [1, limit].
func ParseChoice(text string, limit int) (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || value < 1 || value > limit {
		return 0, false
	}
	return value, true
}

func inferYear(day int, month time.Month, today time.Time) (time.Time, error) {
	date, err := buildDate(today.Year(), int(month), day, today.Location())
	if err != nil {
		return time.Time{}, err
	}
	if date.After(today) {
		return buildDate(today.Year()-1, int(month), day, today.Location())
	}
	return date, nil
}

func buildDate(year int, month int, day int, loc *time.Location) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, ErrDateUnrecognized
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, ErrDateUnrecognized
	}
	return date, nil
}

func midnight(at time.Time) time.Time {
	year, month, day := at.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, at.Location())
}

func formatClock(hour int, minute int) string {
	return pad2(hour) + ":" + pad2(minute)
}

func pad2(value int) string {
	if value < 10 {
		return "0" + strconv.Itoa(value)
	}
	return strconv.Itoa(value)
}

func atoi(value string) int {
	parsed, _ := strconv.Atoi(value)
	return parsed
}
