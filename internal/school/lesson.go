package school

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var lessonTime = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseLessonTime validates an HH:MM start time and returns it zero-padded.
func ParseLessonTime(s string) (string, bool) {
	m := lessonTime.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	if h > 23 || mins > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, mins), true
}

// Summary renders the lesson as "Weekday HH:MM Subject".
func (l Lesson) Summary() string {
	return fmt.Sprintf("%s %s %s", l.Weekday, l.StartsAt, l.Subject)
}

func sortLessons(ls []Lesson) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Weekday != ls[j].Weekday {
			return ls[i].Weekday < ls[j].Weekday
		}
		return ls[i].StartsAt < ls[j].StartsAt
	})
}

// NormalizeGroupCode trims and upper-cases a group code.
func NormalizeGroupCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidGroupCode reports whether code is 2 to 10 characters long.
func ValidGroupCode(code string) bool {
	n := len([]rune(code))
	return n >= 2 && n <= 10 && !strings.ContainsAny(code, " \t\n")
}
