// Пакет clock — единая точка получения текущего времени приложения.
// Все внутренние операции (планировщик, ключи идемпотентности, журналы)
// работают в config.AppLocation: так «сегодня» в напоминаниях совпадает
// с «сегодня» пользователя независимо от таймзоны хоста.
package clock

import (
	"time"

	"second-brain/internal/infra/config"
)

// Now возвращает текущее время в глобальной таймзоне приложения.
func Now() time.Time {
	return time.Now().In(config.AppLocation)
}

// ToApp конвертирует любой момент в глобальную таймзону приложения.
func ToApp(t time.Time) time.Time {
	return t.In(config.AppLocation)
}
