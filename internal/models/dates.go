package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-01-2006",
}

// NewDate truncates t to a UTC calendar date.
func NewDate(t time.Time) datatypes.Date {
	y, m, d := t.Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// ParseDate accepts ISO-8601 dates or timestamps plus the day-first layouts
// bank exports commonly use.
func ParseDate(s string) (datatypes.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t), nil
		}
	}
	return datatypes.Date{}, fmt.Errorf("unrecognised date %q", s)
}

func SameDate(a, b datatypes.Date) bool {
	ay, am, ad := time.Time(a).Date()
	by, bm, bd := time.Time(b).Date()
	return ay == by && am == bm && ad == bd
}
