// Package shared — небольшие общие утилиты без внешних зависимостей.
// Обобщённые операции над слайсами и числовыми диапазонами: без паник,
// с сохранением порядка и предсказуемой семантикой на границах.
package shared

import "strings"

// Unique возвращает срез уникальных значений, сохраняя порядок первого появления.
// O(n) по времени и памяти. Используется для списков затронутых сущностей в аудите.
func Unique[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GetAt безопасно возвращает элемент слайса по индексу i: нулевое значение и false
// при выходе за границы. Удобно для выбора пункта списка по номеру из ответа пользователя.
func GetAt[T any](s []T, i int) (T, bool) {
	if i < 0 || i >= len(s) {
		var zero T
		return zero, false
	}
	return s[i], true
}

// Clamp ограничивает v диапазоном [lo, hi]. При lo > hi возвращает lo.
func Clamp[T int | int64 | float64](v, lo, hi T) T {
	if lo > hi {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Truncate обрезает строку до max рун, добавляя многоточие. Строки короче max
// возвращаются как есть. Применяется к заголовкам в ответах и логах.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
