// Package app — верхний уровень сборки персонального ассистента.
// Здесь связываются конфигурация, шлюз базы знаний (Notion), транспорты
// (Telegram, WhatsApp), пайплайн обработки сообщений и проактивные сервисы
// (напоминания, брифинг, сканер почты). Запуск и остановка подсистем идут
// через lifecycle.Manager; отсюда же стартует операторская консоль.
package app

import (
	"context"
	"strconv"
	"time"

	"second-brain/internal/adapters/extsvc"
	"second-brain/internal/adapters/notion"
	"second-brain/internal/adapters/tgbot"
	"second-brain/internal/adapters/whatsapp"
	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/briefing"
	"second-brain/internal/domain/commands"
	"second-brain/internal/domain/corrections"
	"second-brain/internal/domain/emailscan"
	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/link"
	"second-brain/internal/domain/listener"
	"second-brain/internal/domain/nudge"
	"second-brain/internal/domain/patterns"
	"second-brain/internal/domain/processor"
	"second-brain/internal/domain/queue"
	"second-brain/internal/domain/recent"
	"second-brain/internal/domain/resolve"
	"second-brain/internal/domain/softdelete"
	"second-brain/internal/domain/timeparse"
	"second-brain/internal/infra/clock"
	"second-brain/internal/infra/concurrency"
	"second-brain/internal/infra/config"
	"second-brain/internal/infra/lifecycle"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared/fault"

	"github.com/go-faster/errors"
)

// App агрегирует собранные подсистемы ассистента. Создаётся через New,
// наполняется в build() и живёт до завершения Run().
type App struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc
	env        config.EnvConfig
	loc        *time.Location

	gateway  kb.Gateway
	kbPing   func(ctx context.Context) error
	queue    *queue.Store
	auditLog *audit.Logger

	recentBook  *recent.Book
	deletedBook *recent.DeletedBook
	applicator  *patterns.Applicator
	nudgeLedger *nudge.Ledger
	nudger      *nudge.Engine
	briefer     *briefing.Generator
	debrief     *briefing.Sessions
	scanner     *emailscan.Scanner
	dedup       *concurrency.Deduplicator
	proc        *processor.Processor

	tg *tgbot.Client
	wa *whatsapp.Server

	ownerSender envelope.Sender // транспорт проактивных сообщений владельцу
	ownerChat   string

	exec commands.Executor
	life *lifecycle.Manager
}

// dedupWindow — окно подавления быстрых повторов доставки одного сообщения.
const dedupWindow = 10 * time.Minute

// New создаёт каркас приложения. Конфигурация должна быть уже загружена.
func New(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		env:        config.Env(),
		loc:        config.AppLocation,
	}
}

// Run собирает подсистемы и блокируется до остановки приложения.
func (a *App) Run() error {
	if err := a.build(); err != nil {
		return err
	}
	return a.runAll()
}

// build связывает доменные сервисы с адаптерами. Порядок: хранилище → домен →
// транспорты; транспорты получают готовый процессор в качестве обработчика.
func (a *App) build() error {
	if !a.env.NotionEnabled() {
		return fault.New(fault.KindConfig, "knowledge base is not configured (NOTION_API_KEY and database ids are required)")
	}

	// Все доменные сервисы живут в таймзоне пользователя.
	now := clock.Now

	// База знаний.
	client := notion.NewClient(a.env.NotionAPIKey, a.env.NotionRPS)
	a.gateway = notion.NewGateway(client, notion.Databases{
		Tasks:    a.env.NotionTasksDB,
		People:   a.env.NotionPeopleDB,
		Places:   a.env.NotionPlacesDB,
		Projects: a.env.NotionProjectsDB,
		Inbox:    a.env.NotionInboxDB,
		Patterns: a.env.NotionPatternsDB,
		Log:      a.env.NotionLogDB,
		Emails:   a.env.NotionEmailsDB,
	}, now)
	a.kbPing = func(ctx context.Context) error {
		return client.Ping(ctx, a.env.NotionTasksDB)
	}

	a.auditLog = audit.New(a.gateway, now)
	a.queue = queue.NewStore(a.env.QueueFile, now)

	parser, err := timeparse.New(a.env.UserTimezone, now)
	if err != nil {
		return errors.Wrap(err, "init time parser")
	}

	// Разрешение сущностей и паттерны. Геокодер остаётся пустым, пока не
	// подключён реальный клиент карт.
	var maps extsvc.Maps
	var geocoder resolve.Geocoder
	if a.env.MapsAPIKey != "" {
		logger.Warn("MAPS_API_KEY is set, but no maps client is wired; proximity stays disabled")
	}

	people := resolve.NewPeople(a.gateway)
	places := resolve.NewPlaces(a.gateway, geocoder)
	projects := resolve.NewProjects(a.gateway)
	linker := link.New(people, places, projects)

	a.applicator = patterns.NewApplicator(a.gateway, now)
	detector := patterns.NewDetector(a.gateway, now)

	// Недавние действия, мягкое удаление, поправки.
	a.recentBook = recent.NewBook(now)
	a.deletedBook = recent.NewDeletedBook(now)
	deleter := softdelete.New(a.gateway, a.auditLog, a.deletedBook, now)
	correct := corrections.New(a.gateway, a.auditLog, a.recentBook, deleter, detector, now)

	// Брифинг и дебриф. Создание задач из дебрифа делегируется процессору.
	a.briefer = briefing.NewGenerator(a.gateway, a.auditLog, a.loc, now)

	// Быстрая защита от повторной доставки одного сообщения транспортом.
	a.dedup = concurrency.NewDeduplicator(dedupWindow)

	a.proc = processor.New(processor.Deps{
		Gateway:     a.gateway,
		Audit:       a.auditLog,
		Parser:      parser,
		Applicator:  a.applicator,
		Linker:      linker,
		Corrections: correct,
		Deleter:     deleter,
		Book:        a.recentBook,
		Queue:       a.queue,
		Dedup:       a.dedup,

		Maps:       maps,
		Docs:       nil,
		Researcher: nil,
		Calendar:   nil,

		Location: a.loc,
		Now:      now,
	}, processor.Options{
		ConfidenceThreshold: a.env.ConfidenceThreshold,
		ProximityRadiusKM:   a.env.ProximityRadiusKM,
		HomeAddress:         a.env.UserHomeAddress,
	})

	a.debrief = briefing.NewSessions(a.gateway, a.auditLog, a.proc.CreateTaskFromText, now)
	a.proc.AttachDebrief(a.debrief)

	// Транспорты. Telegram — основной канал владельца; WhatsApp — webhook.
	if a.env.TelegramEnabled() {
		tgClient, tgErr := tgbot.New(tgbot.Options{
			APIID:       a.env.TelegramAPIID,
			APIHash:     a.env.TelegramAPIHash,
			BotToken:    a.env.TelegramBotToken,
			SessionDir:  a.env.SessionDir,
			RPS:         a.env.TelegramRPS,
			Handler:     a.proc,
			Transcriber: extsvc.NoopTranscriber{},
		})
		if tgErr != nil {
			return errors.Wrap(tgErr, "init telegram")
		}
		a.tg = tgClient
		a.proc.RegisterSender(envelope.TransportTelegram, tgClient.Sender())
	}

	if a.env.WhatsAppEnabled() {
		a.wa = whatsapp.NewServer(whatsapp.ServerConfig{
			Address:     a.env.WebhookAddress,
			VerifyToken: a.env.WhatsAppVerifyToken,
			AppSecret:   a.env.WhatsAppAppSecret,
		}, a.proc)
		a.proc.RegisterSender(envelope.TransportWhatsApp,
			whatsapp.NewSender(a.env.WhatsAppPhoneNumberID, a.env.WhatsAppAccessToken))
	}

	// Проактивные сообщения идут владельцу в Telegram.
	if a.tg != nil && a.env.TelegramChatID != 0 {
		a.ownerSender = a.tg.Sender()
		a.ownerChat = formatChatID(a.env.TelegramChatID)

		a.nudgeLedger = nudge.NewLedger(a.env.NudgeLedgerFile, now)
		a.nudger = nudge.NewEngine(a.gateway, a.nudgeLedger, a.ownerSender, a.ownerChat, a.loc, now)
	} else {
		logger.Warn("telegram owner chat is not configured; nudges and briefing are disabled")
	}

	if a.env.EmailScanEnable {
		a.scanner = emailscan.NewScanner(extsvc.NoopMailbox{}, a.env.EmailProcessedFile, now)
	}

	return nil
}

// executor собирает исполнителя операторских команд. Вызывается из runAll,
// когда менеджер жизненного цикла уже создан.
func (a *App) executor(life *lifecycle.Manager) commands.Executor {
	return commands.NewExecutor(commands.Deps{
		Gateway:   a.gateway,
		Queue:     a.queue,
		Nudger:    a.nudger,
		Briefing:  a.briefer,
		Sender:    a.ownerSender,
		ChatID:    a.ownerChat,
		Patterns:  a.applicator,
		Recent:    a.recentBook,
		Lifecycle: life,
		Assistant: listener.Stub{},
		KBPing:    a.kbPing,
	})
}

// formatChatID переводит идентификатор чата владельца в строковый вид конверта.
func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
