package processor

import (
	"strings"
	"time"

	"second-brain/internal/domain/link"
)

// Acknowledgement строит детерминированный ответ на создание задачи:
// "Got it. <title>, <Weekday> at <H:MMam>, with <people>, at <place>,
// for <project>." Отсутствующие фрагменты выпадают вместе со своими
// разделителями.
func Acknowledgement(title string, due *time.Time, loc *time.Location, linked link.Linked) string {
	var b strings.Builder
	b.WriteString("Got it. ")
	b.WriteString(title)

	if due != nil {
		local := due.In(loc)
		b.WriteString(", " + local.Weekday().String())
		if local.Hour() != 0 || local.Minute() != 0 {
			b.WriteString(" at " + clock(local))
		}
	}

	if names := entityNames(linked.People); len(names) > 0 {
		b.WriteString(" with " + joinNames(names))
	}
	if names := entityNames(linked.Places); len(names) > 0 {
		b.WriteString(", at " + names[0])
	}
	if linked.Project != nil {
		b.WriteString(", for " + linked.Project.Name)
	}

	b.WriteString(".")
	return b.String()
}

// clock возвращает время вида "3:05pm".
func clock(t time.Time) string {
	return strings.ToLower(t.Format("3:04PM"))
}

func entityNames(entities []link.Entity) []string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}

// joinNames собирает список имён: "A", "A and B", "A, B and C".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
