// Package debug — вспомогательные утилиты для отладки ассистента.
// Печать входящих конвертов и дампы значений в консоль, структурные записи
// в общий лог — всё только при активном DEBUG. Пакет не влияет на
// бизнес-логику и молчит в проде.
package debug

import (
	"unicode/utf8"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/pr"

	"go.uber.org/zap"
)

// Enabled — глобальный переключатель режима отладки. Выставляется на старте
// из конфигурации (DEBUG=true в .env). Когда false, все функции пакета молчат.
var Enabled = false

// PrintEnvelope печатает компактное представление входящего конверта.
// Формат: [prefix] <transport> <chat>/<msg> <sender>: <обрезанный текст>.
// Текст режется по рунам, чтобы не рвать UTF-8.
func PrintEnvelope(prefix string, env envelope.Envelope) {
	if !Enabled {
		return
	}

	const textMaxLen = 50
	text := env.Text
	if utf8.RuneCountInString(text) > textMaxLen {
		runes := []rune(text)
		text = string(runes[:textMaxLen]) + "..."
	}

	kind := ""
	if env.Voice {
		kind = " (voice)"
	}
	pr.Printf("[%s] %s %s/%s%s %s: %s\n",
		prefix, env.Transport, env.ChatID, env.MessageID, kind, env.Sender, text)
}

// Dump pretty-печатает произвольное значение (запись базы знаний, отчёт
// очереди) в консоль. Не для горячих путей.
func Dump(label string, v any) {
	if !Enabled {
		return
	}
	pr.Println(label + ":")
	pr.PP(v)
}

// Debug пишет запись уровня Debug в общий лог только при активном DEBUG.
func Debug(msg string, fields ...zap.Field) {
	if Enabled {
		logger.Logger().Debug(msg, fields...)
	}
}

// Warn пишет предупреждение в лог, если отладка активна.
func Warn(msg string, fields ...zap.Field) {
	if Enabled {
		logger.Logger().Warn(msg, fields...)
	}
}
