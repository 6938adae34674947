// Пакет config отвечает за сбор и предоставление конфигурации всего приложения.
// Он:
//  1. читает переменные окружения из .env (через godotenv) и из процесса,
//  2. нормализует и валидирует входные значения, подставляя дефолты,
//  3. раскрывает каталог данных (~/.second-brain) и производные пути
//     (офлайн-очередь, журнал отправленных напоминаний, сессия Telegram, логи),
//  4. фиксирует результат в singleton с потокобезопасным доступом.
//
// Бизнес-контекст: конфиг определяет, какие транспорты поднимать (Telegram,
// WhatsApp), куда ходить за базой знаний (Notion), персональные настройки
// пользователя (часовой пояс, домашний адрес, порог уверенности, час утренней
// сводки) и операционные «ручки» (лог-уровень, heartbeat, debug).
//
// Учётные данные здесь не считаются обязательными: транспорт или интеграция,
// для которой нет ключей, просто не стартует. Жёсткие проверки комбинаций
// выполняют app.Init и команда check.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"second-brain/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Значения уже
// прошли нормализацию в loadConfig; в рантайме EnvConfig считается согласованным.
type EnvConfig struct {
	// Telegram (MTProto, бот-авторизация)
	TelegramAPIID    int
	TelegramAPIHash  string
	TelegramBotToken string
	TelegramChatID   int64
	TelegramRPS      int

	// WhatsApp Cloud API
	WhatsAppPhoneNumberID string
	WhatsAppAccessToken   string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WebhookAddress        string

	// База знаний (Notion-совместимый REST)
	NotionAPIKey     string
	NotionTasksDB    string
	NotionPeopleDB   string
	NotionPlacesDB   string
	NotionProjectsDB string
	NotionInboxDB    string
	NotionPatternsDB string
	NotionLogDB      string
	NotionEmailsDB   string
	NotionRPS        int

	// Внешние сервисы
	STTAPIKey            string
	LLMAPIKey            string
	CalendarClientID     string
	CalendarClientSecret string
	MapsAPIKey           string

	// Персонализация
	UserTimezone        string
	UserHomeAddress     string
	ConfidenceThreshold int
	MorningBriefingHour int
	ProximityRadiusKM   float64

	// Данные и производные пути
	DataDir            string
	QueueFile          string
	NudgeLedgerFile    string
	EmailProcessedFile string
	SessionDir         string
	LogDir             string
	ScreenshotsDir     string

	// Операционные настройки
	LogLevel            string
	Debug               bool
	HeartbeatURL        string
	HeartbeatIntervalS  int
	EmailScanEnable     bool
	EmailScanIntervalM  int
	ErrorTrackingDSN    string
	ErrorTrackingEnv    string
}

// Config хранит конфигурацию среды и накопленные предупреждения.
// Потокобезопасность: публичные геттеры берут RLock; Load держит Lock.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию.
const (
	defaultWebhookAddress      = ":8799"
	defaultNotionRPS           = 3
	defaultTelegramRPS         = 5
	defaultUserTimezone        = "UTC"
	defaultConfidenceThreshold = 80
	defaultBriefingHour        = 7
	defaultProximityRadiusKM   = 5.0
	defaultDataDir             = "~/.second-brain"
	defaultLogLevel            = "info"
	defaultHeartbeatIntervalS  = 300
	defaultEmailScanIntervalM  = 60
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — глобальная таймзона приложения (USER_TIMEZONE). Все внутренние
// операции со временем идут через неё (см. пакет clock).
var AppLocation = time.UTC

// Load — точка входа для инициализации глобальной конфигурации.
// Повторный вызов запрещён, чтобы исключить гонки конфигурации на старте.
// Отсутствие .env по пути по умолчанию не фатально: остаётся окружение процесса.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку и валидацию без установки глобального
// состояния. Вынесено отдельно ради тестируемости.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if err := godotenv.Load(envPath); err != nil {
		// Явно указанный файл обязан существовать; дефолтный — нет.
		if envPath != ".env" {
			return nil, fmt.Errorf("failed to load env file %q: %w", envPath, err)
		}
		appendWarningf(&warnings, "env file %q not found; using process environment only", envPath)
	}

	apiID := parseIntDefault("TELEGRAM_API_ID", 0, nonNegative, &warnings)
	chatID := parseInt64Default("TELEGRAM_CHAT_ID", 0, &warnings)

	userTimezone := sanitizeTimezone(os.Getenv("USER_TIMEZONE"), defaultUserTimezone, &warnings)
	loc, err := timeutil.ParseLocation(userTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid USER_TIMEZONE %q: %w", userTimezone, err)
	}
	AppLocation = loc

	dataDir, err := expandDataDir(valueOrDefault(os.Getenv("DATA_DIR"), defaultDataDir))
	if err != nil {
		return nil, fmt.Errorf("invalid DATA_DIR: %w", err)
	}

	logDir := strings.TrimSpace(os.Getenv("LOG_DIR"))
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}

	env := EnvConfig{
		TelegramAPIID:    apiID,
		TelegramAPIHash:  strings.TrimSpace(os.Getenv("TELEGRAM_API_HASH")),
		TelegramBotToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID:   chatID,
		TelegramRPS:      parseIntDefault("TELEGRAM_RPS", defaultTelegramRPS, greaterThanZero, &warnings),

		WhatsAppPhoneNumberID: strings.TrimSpace(os.Getenv("WHATSAPP_PHONE_NUMBER_ID")),
		WhatsAppAccessToken:   strings.TrimSpace(os.Getenv("WHATSAPP_ACCESS_TOKEN")),
		WhatsAppVerifyToken:   strings.TrimSpace(os.Getenv("WHATSAPP_VERIFY_TOKEN")),
		WhatsAppAppSecret:     strings.TrimSpace(os.Getenv("WHATSAPP_APP_SECRET")),
		WebhookAddress:        valueOrDefault(os.Getenv("WEBHOOK_ADDRESS"), defaultWebhookAddress),

		NotionAPIKey:     strings.TrimSpace(os.Getenv("NOTION_API_KEY")),
		NotionTasksDB:    strings.TrimSpace(os.Getenv("NOTION_TASKS_DB")),
		NotionPeopleDB:   strings.TrimSpace(os.Getenv("NOTION_PEOPLE_DB")),
		NotionPlacesDB:   strings.TrimSpace(os.Getenv("NOTION_PLACES_DB")),
		NotionProjectsDB: strings.TrimSpace(os.Getenv("NOTION_PROJECTS_DB")),
		NotionInboxDB:    strings.TrimSpace(os.Getenv("NOTION_INBOX_DB")),
		NotionPatternsDB: strings.TrimSpace(os.Getenv("NOTION_PATTERNS_DB")),
		NotionLogDB:      strings.TrimSpace(os.Getenv("NOTION_LOG_DB")),
		NotionEmailsDB:   strings.TrimSpace(os.Getenv("NOTION_EMAILS_DB")),
		NotionRPS:        parseIntDefault("NOTION_RPS", defaultNotionRPS, greaterThanZero, &warnings),

		STTAPIKey:            strings.TrimSpace(os.Getenv("STT_API_KEY")),
		LLMAPIKey:            strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		CalendarClientID:     strings.TrimSpace(os.Getenv("CALENDAR_CLIENT_ID")),
		CalendarClientSecret: strings.TrimSpace(os.Getenv("CALENDAR_CLIENT_SECRET")),
		MapsAPIKey:           strings.TrimSpace(os.Getenv("MAPS_API_KEY")),

		UserTimezone:        userTimezone,
		UserHomeAddress:     strings.TrimSpace(os.Getenv("USER_HOME_ADDRESS")),
		ConfidenceThreshold: parseIntDefault("CONFIDENCE_THRESHOLD", defaultConfidenceThreshold, withinRange(0, 100), &warnings),
		MorningBriefingHour: parseIntDefault("MORNING_BRIEFING_HOUR", defaultBriefingHour, withinRange(0, 23), &warnings),
		ProximityRadiusKM:   parseFloatDefault("PROXIMITY_RADIUS_KM", defaultProximityRadiusKM, &warnings),

		DataDir:            dataDir,
		QueueFile:          filepath.Join(dataDir, "queue", "pending.jsonl"),
		NudgeLedgerFile:    filepath.Join(dataDir, "nudges", "sent.json"),
		EmailProcessedFile: filepath.Join(dataDir, "email-scanner", "processed.json"),
		SessionDir:         filepath.Join(dataDir, "session"),
		LogDir:             logDir,
		ScreenshotsDir:     filepath.Join(dataDir, "screenshots"),

		LogLevel:           sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		Debug:              parseBoolDefault("DEBUG", false, &warnings),
		HeartbeatURL:       strings.TrimSpace(os.Getenv("HEARTBEAT_URL")),
		HeartbeatIntervalS: parseIntDefault("HEARTBEAT_INTERVAL_S", defaultHeartbeatIntervalS, greaterThanZero, &warnings),
		EmailScanEnable:    parseBoolDefault("EMAIL_SCAN_ENABLE", false, &warnings),
		EmailScanIntervalM: parseIntDefault("EMAIL_SCAN_INTERVAL_MIN", defaultEmailScanIntervalM, greaterThanZero, &warnings),
		ErrorTrackingDSN:   strings.TrimSpace(os.Getenv("ERROR_TRACKING_DSN")),
		ErrorTrackingEnv:   strings.TrimSpace(os.Getenv("ERROR_TRACKING_ENVIRONMENT")),
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает предупреждения, накопленные при загрузке (копию).
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает снимок EnvConfig из глобального singleton.
func Env() EnvConfig {
	return cfgInstance.Env
}

// TelegramEnabled сообщает, достаточно ли учётных данных для запуска Telegram.
func (e EnvConfig) TelegramEnabled() bool {
	return e.TelegramAPIID > 0 && e.TelegramAPIHash != "" && e.TelegramBotToken != ""
}

// WhatsAppEnabled сообщает, достаточно ли учётных данных для запуска WhatsApp.
func (e EnvConfig) WhatsAppEnabled() bool {
	return e.WhatsAppPhoneNumberID != "" && e.WhatsAppAccessToken != "" &&
		e.WhatsAppVerifyToken != "" && e.WhatsAppAppSecret != ""
}

// NotionEnabled сообщает, настроена ли база знаний.
func (e EnvConfig) NotionEnabled() bool {
	return e.NotionAPIKey != "" && e.NotionTasksDB != "" && e.NotionLogDB != ""
}

// expandDataDir раскрывает префикс "~" в домашний каталог пользователя.
func expandDataDir(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
	}
	return dir, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// validator — возвращает defaultVal и пишет предупреждение. Несущественные
// настройки не валят приложение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseInt64Default — как parseIntDefault, но для идентификаторов чатов.
func parseInt64Default(name string, defaultVal int64, warnings *[]string) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseFloatDefault читает name как float64 (> 0), иначе дефолт с предупреждением.
func parseFloatDefault(name string, defaultVal float64, warnings *[]string) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v <= 0 {
		appendWarningf(warnings, "env %s value %q is not a valid positive number; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool; пусто/некорректно — defaultVal с предупреждением.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf накапливает предупреждения о некорректных переменных окружения.
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative / withinRange — валидаторы для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

func withinRange(lo, hi int) func(int) bool {
	return func(v int) bool { return v >= lo && v <= hi }
}

// sanitizeLogLevel ограничивает LOG_LEVEL набором {debug, info, warn, error}.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// valueOrDefault возвращает значение переменной либо fallback без предупреждения:
// отсутствие необязательной настройки — норма, а не отклонение.
func valueOrDefault(value, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}

// sanitizeTimezone проверяет, что значение — корректная IANA-зона или UTC-смещение.
// При неудаче возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezone(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env USER_TIMEZONE %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}
