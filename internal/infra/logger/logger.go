// Package logger — централизованная обёртка над zap для всего приложения.
// Уровень меняется на лету через zap.AtomicLevel (команда loglevel в консоли),
// целевые потоки переназначаются в рантайме: консольный вывод может уходить в
// readline-консоль, файловый — в lumberjack с ротацией. Все функции потокобезопасны.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu защищает глобальное состояние логгера от одновременных перестроек.
	mu sync.Mutex
	// log — текущий экземпляр zap.Logger, общий для всего процесса.
	log *zap.Logger
	// logLevel управляет уровнем без пересоздания ядра.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// consoleWriter — поток консольного вывода (stdout либо CLI-подсистема).
	consoleWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	// errorWriter — поток внутренних ошибок самого логгера.
	errorWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// fileWriter — файловый сток с ротацией; nil, пока EnableFileSink не вызван.
	fileWriter zapcore.WriteSyncer
)

const (
	logFileName    = "secondbrain.log"
	fileMaxSizeMB  = 20
	fileMaxBackups = 5
	fileMaxAgeDays = 28
)

// consoleEncoderConfig — человекочитаемый encoder с цветами и коротким caller.
func consoleEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — JSON без цветовых кодов для файлового стока.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := consoleEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// rebuildLoggerLocked пересобирает глобальный логгер из текущих потоков.
// Вызывающий обязан удерживать mu. AddCallerSkip(1) прячет обёртки logger.* из стека.
func rebuildLoggerLocked() {
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), consoleWriter, logLevel),
	}
	if fileWriter != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), fileWriter, logLevel))
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(errorWriter))
}

// parseLevel переводит строку в уровень zap. Неизвестные значения дают info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init инициализирует глобальный логгер с заданным уровнем (debug|info|warn|error,
// без учёта регистра). Повторный вызов пересобирает ядро с актуальными потоками.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	logLevel.SetLevel(parseLevel(level))
	rebuildLoggerLocked()
}

// SetLevel меняет уровень на лету, не трогая потоки. Возвращает итоговый уровень.
func SetLevel(level string) string {
	lvl := parseLevel(level)
	logLevel.SetLevel(lvl)
	return lvl.String()
}

// SetWriters переназначает консольный поток и поток ошибок. Nil возвращает
// stdout/stderr по умолчанию. Используется CLI-консолью, чтобы логи не рвали ввод.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		consoleWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		consoleWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		errorWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		errorWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// EnableFileSink подключает файловый сток с ротацией в каталоге dir.
// Размеры и сроки хранения фиксированы константами пакета; ошибок не возвращает —
// lumberjack создаёт файл лениво при первой записи.
func EnableFileSink(dir string) {
	mu.Lock()
	defer mu.Unlock()

	fileWriter = zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
		Compress:   true,
	})
	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Возвращается «сырое» API: предпочитайте структурированные zap.Field.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled сообщает, активен ли уровень debug (для дорогостоящих дампов).
func IsDebugEnabled() bool {
	return logLevel.Level() <= zap.DebugLevel
}

// Sync сбрасывает буферы логгера. Вызывается при остановке приложения.
func Sync() {
	_ = Logger().Sync()
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение уровня Fatal и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync()
	os.Exit(1)
}

// Debugf форматирует через fmt.Sprintf. Для горячих путей предпочтительны поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует через fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует через fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует через fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
