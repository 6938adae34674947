// Package timeparse — разбор естественно-языковых фрагментов времени
// («tomorrow 2pm», «9am EST», «in 2 hours») в инстанты с учётом зоны.
// Зона по умолчанию берётся из конфигурации пользователя; явная аббревиатура
// в конце фрагмента (закрытый список) переопределяет её. Неразобранный текст —
// не ошибка: вызывающий трактует отсутствие результата как «срок не задан».
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// defaultDayHour — час по умолчанию для фрагментов без времени («tomorrow»).
const defaultDayHour = 9

// zoneByAbbr — закрытый список поддерживаемых аббревиатур → IANA-имя.
// Летние и зимние варианты одной зоны сводятся к одному имени: точное смещение
// на конкретную дату вычисляет сама база зон.
var zoneByAbbr = map[string]string{
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"mst":  "America/Denver",
	"mdt":  "America/Denver",
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"hst":  "Pacific/Honolulu",
	"akst": "America/Anchorage",
	"akdt": "America/Anchorage",
	"gmt":  "Europe/London",
	"bst":  "Europe/London",
	"cet":  "Europe/Paris",
	"cest": "Europe/Paris",
	"eet":  "Europe/Athens",
	"eest": "Europe/Athens",
	"utc":  "UTC",
	"ist":  "Asia/Kolkata",
	"jst":  "Asia/Tokyo",
	"aest": "Australia/Sydney",
	"aedt": "Australia/Sydney",
}

// Грамматика фрагментов. Более длинные аббревиатуры стоят раньше коротких,
// чтобы «cest» не разбирался как «est».
var (
	reRelative = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(minute|hour|day|week)s?\b`)
	reDayWord  = regexp.MustCompile(`(?i)\b(today|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reTime12   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5][0-9]))?\s*(am|pm)\b`)
	reTime24   = regexp.MustCompile(`\b([01]?[0-9]|2[0-3]):([0-5][0-9])\b`)
	reZoneTail = regexp.MustCompile(`(?i)^[ \t,]*(akst|akdt|aest|aedt|cest|eest|est|edt|cst|cdt|mst|mdt|pst|pdt|hst|gmt|bst|cet|eet|utc|ist|jst)\b`)
)

var weekdayByName = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Result — разобранный инстант и IANA-имя зоны, в которой он был задан.
type Result struct {
	At       time.Time
	ZoneName string
}

// Parser разбирает фрагменты относительно зоны пользователя.
// Потокобезопасен: состояние неизменяемо после создания.
type Parser struct {
	loc      *time.Location
	zoneName string
	now      func() time.Time
}

// New создаёт парсер для зоны пользователя (IANA-имя). nowFn подменяет источник
// времени в тестах; nil означает time.Now.
func New(zoneName string, nowFn func() time.Time) (*Parser, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, errors.Wrapf(err, "timeparse: unknown timezone %q", zoneName)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Parser{loc: loc, zoneName: zoneName, now: nowFn}, nil
}

// ZoneName возвращает IANA-имя зоны по умолчанию.
func (p *Parser) ZoneName() string { return p.zoneName }

// Location возвращает зону по умолчанию.
func (p *Parser) Location() *time.Location { return p.loc }

// Parse ищет в тексте фрагмент времени и разбирает его.
// Порядок по убыванию приоритета: относительное смещение («in N units»),
// затем день + время. Второе значение false — фрагмент не найден.
//
// Семантика:
//   - явная аббревиатура зоны после фрагмента переопределяет зону пользователя;
//   - голое время без даты — сегодня; если уже прошло, переносится на завтра;
//   - день недели — ближайшее будущее вхождение; сегодняшний день подходит,
//     только если время ещё впереди;
//   - фрагменты без времени получают defaultDayHour:00.
func (p *Parser) Parse(text string) (Result, bool) {
	if res, ok := p.parseRelative(text); ok {
		return res, true
	}

	day, dayEnd, hasDay := findDayWord(text)
	clock, clockEnd, hasClock := findClock(text)
	if !hasDay && !hasClock {
		return Result{}, false
	}

	// Зона: сперва хвост после времени, затем после слова-дня.
	zoneName, loc := p.zoneName, p.loc
	if hasClock {
		if name, l, ok := trailingZone(text, clockEnd); ok {
			zoneName, loc = name, l
		}
	}
	if zoneName == p.zoneName && hasDay {
		if name, l, ok := trailingZone(text, dayEnd); ok {
			zoneName, loc = name, l
		}
	}

	now := p.now().In(loc)

	hour, minute := defaultDayHour, 0
	if hasClock {
		hour, minute = clock.hour, clock.minute
	}

	year, month, dom := now.Date()
	at := time.Date(year, month, dom, hour, minute, 0, 0, loc)

	switch {
	case hasDay && day.kind == dayTomorrow:
		at = at.AddDate(0, 0, 1)
	case hasDay && day.kind == dayWeekday:
		ahead := (int(day.weekday) - int(now.Weekday()) + 7) % 7
		if ahead == 0 && !at.After(now) {
			// Сегодня нужный день недели, но время уже прошло — через неделю.
			ahead = 7
		}
		at = at.AddDate(0, 0, ahead)
	case !hasDay:
		// Голое время: сегодня, а если прошло — завтра.
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
	}

	return Result{At: at, ZoneName: zoneName}, true
}

func (p *Parser) parseRelative(text string) (Result, bool) {
	m := reRelative.FindStringSubmatchIndex(text)
	if m == nil {
		return Result{}, false
	}

	amount, err := strconv.Atoi(text[m[2]:m[3]])
	if err != nil || amount <= 0 {
		return Result{}, false
	}
	unit := strings.ToLower(text[m[4]:m[5]])

	zoneName, loc := p.zoneName, p.loc
	if name, l, ok := trailingZone(text, m[1]); ok {
		zoneName, loc = name, l
	}

	now := p.now().In(loc)
	var at time.Time
	switch unit {
	case "minute":
		at = now.Add(time.Duration(amount) * time.Minute)
	case "hour":
		at = now.Add(time.Duration(amount) * time.Hour)
	case "day":
		at = now.AddDate(0, 0, amount)
	case "week":
		at = now.AddDate(0, 0, 7*amount)
	default:
		return Result{}, false
	}

	return Result{At: at.Truncate(time.Minute), ZoneName: zoneName}, true
}

type dayKind int

const (
	dayToday dayKind = iota
	dayTomorrow
	dayWeekday
)

type dayWord struct {
	kind    dayKind
	weekday time.Weekday
}

func findDayWord(text string) (dayWord, int, bool) {
	m := reDayWord.FindStringSubmatchIndex(text)
	if m == nil {
		return dayWord{}, 0, false
	}
	word := strings.ToLower(text[m[2]:m[3]])
	switch word {
	case "today":
		return dayWord{kind: dayToday}, m[1], true
	case "tomorrow":
		return dayWord{kind: dayTomorrow}, m[1], true
	default:
		return dayWord{kind: dayWeekday, weekday: weekdayByName[word]}, m[1], true
	}
}

type clockPart struct {
	hour   int
	minute int
}

// findClock ищет время. Принимаются формы «H[:MM]am/pm» и «HH:MM»;
// голое число без двоеточия и am/pm временем не считается.
func findClock(text string) (clockPart, int, bool) {
	if m := reTime12.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		if hour >= 1 && hour <= 12 {
			minute := 0
			if m[4] >= 0 {
				minute, _ = strconv.Atoi(text[m[4]:m[5]])
			}
			merid := strings.ToLower(text[m[6]:m[7]])
			if merid == "pm" && hour != 12 {
				hour += 12
			}
			if merid == "am" && hour == 12 {
				hour = 0
			}
			return clockPart{hour: hour, minute: minute}, m[1], true
		}
	}

	if m := reTime24.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute, _ := strconv.Atoi(text[m[4]:m[5]])
		return clockPart{hour: hour, minute: minute}, m[1], true
	}

	return clockPart{}, 0, false
}

// trailingZone разбирает аббревиатуру зоны сразу после фрагмента (offset —
// конец фрагмента в text). Аббревиатура в середине прочего текста не считается:
// это защита от ложных срабатываний на обычных словах.
func trailingZone(text string, offset int) (string, *time.Location, bool) {
	if offset >= len(text) {
		return "", nil, false
	}
	m := reZoneTail.FindStringSubmatch(text[offset:])
	if m == nil {
		return "", nil, false
	}
	name, ok := zoneByAbbr[strings.ToLower(m[1])]
	if !ok {
		return "", nil, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return "", nil, false
	}
	return name, loc, true
}

// ZoneForAbbreviation возвращает IANA-имя для аббревиатуры из закрытого списка.
func ZoneForAbbreviation(abbr string) (string, bool) {
	name, ok := zoneByAbbr[strings.ToLower(strings.TrimSpace(abbr))]
	return name, ok
}

// Format сериализует инстант в ISO-8601 со смещением; UTC рендерится как Z.
func Format(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseISO разбирает ISO-8601 строку, созданную Format.
func ParseISO(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "timeparse: bad ISO-8601 instant")
	}
	return t, nil
}
