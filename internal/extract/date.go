package extract

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/smsledger/internal/model"
)

// DateOrder decides how ambiguous numeric dates such as 04/01/2024 are read.
type DateOrder string

// Date order constants.
const (
	MonthFirst DateOrder = "mdy"
	DayFirst   DateOrder = "dmy"
)

const latinMonth = `(?i:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

const arabicMonth = `(?:يناير|فبراير|مارس|أبريل|ابريل|مايو|يونيو|يوليو|أغسطس|اغسطس|سبتمبر|أكتوبر|اكتوبر|نوفمبر|ديسمبر)`

var datePatternSpecs = []patternSpec{
	// 2024-03-15
	{expr: `\p{Nd}{4}[\-/.]\p{Nd}{1,2}[\-/.]\p{Nd}{1,2}`, noDigitAround: true},
	// 03/15/2024, 15-03-24
	{expr: `\p{Nd}{1,2}[\-/.]\p{Nd}{1,2}[\-/.]\p{Nd}{2,4}`, noDigitAround: true},
	// 15 Mar 2024, 15-MAR-24
	{expr: `\p{Nd}{1,2}[\s\-]?` + latinMonth + `\.?(?:[\s\-,]+\p{Nd}{2,4})?`, noDigitAround: true, noLetterAround: true},
	// March 15, 2024
	{expr: latinMonth + `\.?\s+\p{Nd}{1,2}(?:st|nd|rd|th)?(?:,?\s+\p{Nd}{4})?`, noDigitAround: true, noLetterAround: true},
	// 15 مارس 2024
	{expr: `\p{Nd}{1,2}\s+` + arabicMonth + `(?:\s+\p{Nd}{4})?`, noDigitAround: true, noLetterAround: true},
	// on 15/03
	{expr: `(?i:on|date|dated)\s+(\p{Nd}{1,2}[\-/]\p{Nd}{1,2})`, group: 1, noDigitAround: true, rank: 1},
	{expr: `(?:بتاريخ|في|يوم)\s+(\p{Nd}{1,2}[\-/]\p{Nd}{1,2})`, group: 1, noDigitAround: true, rank: 1},
	// relative expressions
	{expr: `(?i:today|yesterday|tonight)`, noLetterAround: true, rank: 2},
	{expr: `(?i:\p{Nd}+\s+days?\s+ago)`, noLetterAround: true, rank: 2},
	{expr: `(?:اليوم|أمس|امس|البارحة)`, noLetterAround: true, rank: 2},
	{expr: `منذ\s+(?:\p{Nd}+\s+)?(?:أيام|ايام|يوم|يومين)`, noLetterAround: true, rank: 2},
}

var (
	dateOnce     sync.Once
	datePatterns []pattern
)

func dateSpans(text string) []span {
	dateOnce.Do(func() { datePatterns = compilePatterns("date", datePatternSpecs) })
	return findSpans(text, datePatterns)
}

// ExtractDateTokens returns date mentions in text, including relative ones.
func ExtractDateTokens(text string) []model.PositionedToken {
	spans := dateSpans(text)
	if len(spans) == 0 {
		return nil
	}
	tokens := Tokenize(text)
	out := make([]model.PositionedToken, 0, len(spans))
	for _, s := range spans {
		out = append(out, Positioned(text, tokens, s.start, s.end))
	}
	return out
}

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	"يناير": time.January, "فبراير": time.February, "مارس": time.March,
	"أبريل": time.April, "ابريل": time.April, "مايو": time.May, "يونيو": time.June,
	"يوليو": time.July, "أغسطس": time.August, "اغسطس": time.August, "سبتمبر": time.September,
	"أكتوبر": time.October, "اكتوبر": time.October, "نوفمبر": time.November, "ديسمبر": time.December,
}

var (
	numberRun  = regexp.MustCompile(`[0-9]+`)
	daysAgoRun = regexp.MustCompile(`([0-9]+)\s+days?\s+ago`)
)

// ParseDate resolves a date token to a calendar day. ref anchors relative
// expressions and year-less dates.
func ParseDate(token string, ref time.Time, order DateOrder) (time.Time, bool) {
	s := Normalize(token)
	if s == "" {
		return time.Time{}, false
	}
	day := truncateDay(ref)

	switch s {
	case "today", "tonight", "اليوم":
		return day, true
	case "yesterday", "أمس", "امس", "البارحة":
		return day.AddDate(0, 0, -1), true
	}

	if m := daysAgoRun.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		return day.AddDate(0, 0, -n), true
	}
	if strings.HasPrefix(s, "منذ") {
		n := 1
		if strings.Contains(s, "يومين") {
			n = 2
		} else if num := numberRun.FindString(s); num != "" {
			v, err := strconv.Atoi(num)
			if err != nil {
				return time.Time{}, false
			}
			n = v
		}
		return day.AddDate(0, 0, -n), true
	}

	if month, ok := findMonthName(s); ok {
		return parseNamedMonth(s, month, ref)
	}

	nums := numberRun.FindAllString(s, -1)
	switch len(nums) {
	case 3:
		return parseNumeric(nums, ref, order)
	case 2:
		return parseNumeric(append(nums, ""), ref, order)
	}
	return time.Time{}, false
}

func findMonthName(s string) (time.Month, bool) {
	for _, word := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == ',' || r == '.' || (r >= '0' && r <= '9')
	}) {
		if m, ok := monthIndex[word]; ok {
			return m, true
		}
		if len(word) >= 3 {
			if m, ok := monthIndex[word[:3]]; ok {
				return m, true
			}
		}
	}
	return 0, false
}

func parseNamedMonth(s string, month time.Month, ref time.Time) (time.Time, bool) {
	day, year := 0, 0
	for _, n := range numberRun.FindAllString(s, -1) {
		v, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		switch {
		case len(n) == 4:
			year = v
		case day == 0 && v >= 1 && v <= 31:
			day = v
		case year == 0 && len(n) == 2:
			year = 2000 + v
		}
	}
	if day == 0 {
		return time.Time{}, false
	}
	return buildDate(year, month, day, ref)
}

func parseNumeric(nums []string, ref time.Time, order DateOrder) (time.Time, bool) {
	vals := make([]int, 0, 3)
	for _, n := range nums {
		if n == "" {
			vals = append(vals, 0)
			continue
		}
		v, err := strconv.Atoi(n)
		if err != nil {
			return time.Time{}, false
		}
		vals = append(vals, v)
	}

	// Year first: 2024-03-15.
	if len(nums[0]) == 4 {
		return buildDate(vals[0], time.Month(vals[1]), vals[2], ref)
	}

	a, b, year := vals[0], vals[1], vals[2]
	if nums[2] != "" && len(nums[2]) == 2 {
		year += 2000
	}

	var day, month int
	switch {
	case a > 12:
		day, month = a, b
	case b > 12:
		month, day = a, b
	case order == DayFirst:
		day, month = a, b
	default:
		month, day = a, b
	}
	return buildDate(year, time.Month(month), day, ref)
}

// buildDate validates the parts; a zero year means the most recent such day
// not after ref.
func buildDate(year int, month time.Month, day int, ref time.Time) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	inferYear := year == 0
	if inferYear {
		year = ref.Year()
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, ref.Location())
	if t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	if inferYear && t.After(truncateDay(ref).AddDate(0, 0, 1)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
