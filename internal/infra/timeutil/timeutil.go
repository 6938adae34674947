// Пакет timeutil содержит служебные функции для работы со временем:
// парсинг таймзон, границы суток и дневные окна планировщика.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DayKey — формат даты, используемый в ключах идемпотентности и журнале напоминаний.
const DayKey = "2006-01-02"

// ParseLocation разбирает либо IANA-таймзону (например, "America/Los_Angeles"),
// либо UTC-смещение (например, "+03:00", "-0700", "UTC+3", "GMT-04:30").
// Возвращает *time.Location или ошибку.
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	if loc, ok := ParseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

// offsetRe распознаёт формы +HH, -HH, +HHMM, -HHMM, +HH:MM, -HH:MM.
var offsetRe = regexp.MustCompile(`^([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)

// ParseUTCOffsetToLocation парсит строки вида "+03:00", "-0700", "UTC+3", "GMT-04:30" или "Z".
// Возвращает фиксированную таймзону и ok=true при успешном разборе.
func ParseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	v = strings.TrimPrefix(v, "UTC")
	v = strings.TrimPrefix(v, "GMT")
	v = strings.TrimSpace(v)
	m := offsetRe.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hours, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	mins := 0
	if m[3] != "" {
		mins, err = strconv.Atoi(m[3])
		if err != nil {
			return nil, false
		}
	}
	if hours < 0 || hours > 14 || mins < 0 || mins > 59 {
		return nil, false
	}
	const (
		secInHour = 60 * 60
		secInMin  = 60
	)
	offset := sign * ((hours * secInHour) + (mins * secInMin))
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins)
	return time.FixedZone(name, offset), true
}

// StartOfDay возвращает полночь суток, в которые попадает t, в зоне самого t.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay сообщает, попадают ли два момента в одни календарные сутки зоны loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	aa, bb := a.In(loc), b.In(loc)
	return aa.Year() == bb.Year() && aa.YearDay() == bb.YearDay()
}

// FormatDay возвращает дату в формате yyyy-mm-dd в зоне момента t.
func FormatDay(t time.Time) string {
	return t.Format(DayKey)
}

// HourWindow — отрезок суток [From, Until) в часах локального времени.
// Окно с From == Until считается пустым.
type HourWindow struct {
	From  int // включительно, 0–23
	Until int // исключительно, 1–24
}

// Contains сообщает, попадает ли локальный час момента t в окно.
func (w HourWindow) Contains(t time.Time) bool {
	h := t.Hour()
	return h >= w.From && h < w.Until
}

// String возвращает человекочитаемое представление окна для логов.
func (w HourWindow) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", w.From, w.Until)
}
