// Package processor — оркестратор обработки входящего сообщения. Конверт
// проходит цепочку: идемпотентность → разбор-сессия → поправка → undo →
// запрос «что рядом» → исследование → обычная классификация (извлечение,
// паттерны, связывание, задача или входящее). Любой временный сбой базы
// знаний переводит действие в офлайн-очередь с немедленным ответом.
package processor

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/adapters/extsvc"
	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/briefing"
	"second-brain/internal/domain/corrections"
	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/extract"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/link"
	"second-brain/internal/domain/patterns"
	"second-brain/internal/domain/queue"
	"second-brain/internal/domain/recent"
	"second-brain/internal/domain/softdelete"
	"second-brain/internal/domain/timeparse"
	"second-brain/internal/infra/concurrency"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared"
	"second-brain/internal/shared/fault"
	"second-brain/internal/support/debug"
)

// Ответы процессора вне конструктора подтверждений.
const (
	MsgDuplicate   = "Already got that one."
	MsgProcessFail = "Something went wrong, try again in a minute."
	MsgNothingDue  = "Nothing due today."
)

// imperativeVerbs — глаголы, с которых начинается задача без явной даты.
var imperativeVerbs = map[string]bool{
	"call": true, "email": true, "text": true, "meet": true, "see": true,
	"contact": true, "tell": true, "ask": true, "buy": true, "get": true,
	"schedule": true, "book": true, "pay": true, "send": true, "finish": true,
	"review": true, "write": true, "plan": true, "fix": true, "remind": true,
	"pick": true, "order": true, "return": true, "renew": true,
}

// Options — пороги и настройки классификации.
type Options struct {
	// ConfidenceThreshold — ниже него запись уходит во входящие с пометкой
	// «нужно уточнение». 0 трактуется как 80.
	ConfidenceThreshold int
	// ProximityRadiusKM — радиус запроса «что рядом». 0 — 5 км.
	ProximityRadiusKM float64
	// HomeAddress — точка отсчёта, когда в запросе нет места.
	HomeAddress string
}

// Deps — работающие части процессора. Maps, Docs, Researcher и Calendar
// могут быть nil: соответствующие пути отвечают, что сервис не настроен.
type Deps struct {
	Gateway     kb.Gateway
	Audit       *audit.Logger
	Parser      *timeparse.Parser
	Applicator  *patterns.Applicator
	Linker      *link.Linker
	Corrections *corrections.Handler
	Deleter     *softdelete.Service
	Book        *recent.Book
	Queue       *queue.Store
	Debrief     *briefing.Sessions
	// Dedup подавляет быстрые повторы доставки (ретраи webhook, повторные
	// апдейты после переподключения) до обращения к базе знаний.
	Dedup *concurrency.Deduplicator

	Maps       extsvc.Maps
	Docs       extsvc.Docs
	Researcher extsvc.Researcher
	Calendar   extsvc.Calendar

	Location *time.Location
	Now      func() time.Time
}

// Processor обрабатывает конверты и рассылает ответы по транспортам.
type Processor struct {
	deps Deps
	opts Options

	senders map[envelope.Transport]envelope.Sender
}

// New создаёт процессор. Отправители транспортов регистрируются отдельно.
func New(deps Deps, opts Options) *Processor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 80
	}
	if opts.ProximityRadiusKM <= 0 {
		opts.ProximityRadiusKM = 5.0
	}
	return &Processor{
		deps:    deps,
		opts:    opts,
		senders: make(map[envelope.Transport]envelope.Sender),
	}
}

// AttachDebrief привязывает сессии дебрифа. Отдельный шаг сборки: сессии
// создаются после процессора, потому что создание задач делегируется ему же.
func (p *Processor) AttachDebrief(s *briefing.Sessions) {
	p.deps.Debrief = s
}

// RegisterSender привязывает исходящий канал транспорта. Вызывается на
// сборке приложения, до старта приёма.
func (p *Processor) RegisterSender(t envelope.Transport, s envelope.Sender) {
	p.senders[t] = s
}

// Handle реализует envelope.Handler: обрабатывает конверт и шлёт ответ
// обратно в транспорт-источник. Ошибки здесь терминальны и только логируются.
func (p *Processor) Handle(ctx context.Context, env envelope.Envelope) {
	debug.PrintEnvelope("in", env)

	if p.deps.Dedup != nil && p.deps.Dedup.Seen(env.IdempotencyKey()) {
		logger.Debugf("processor: fast duplicate %s", env.IdempotencyKey())
		return
	}

	reply, err := p.Process(ctx, env)
	if err != nil {
		logger.Errorf("processor: %s: %v", env.IdempotencyKey(), err)
		p.deps.Audit.LogError(ctx, env.IdempotencyKey(), env.Text, fault.KindOf(err).String(), err.Error())
		if reply == "" {
			reply = MsgProcessFail
		}
	}
	if reply == "" {
		return
	}

	sender, ok := p.senders[env.Transport]
	if !ok {
		logger.Warnf("processor: no sender for transport %s", env.Transport)
		return
	}
	if err := sender.Send(ctx, env.ChatID, reply); err != nil {
		logger.Errorf("processor: reply to %s:%s: %v", env.Transport, env.ChatID, err)
	}
}

// Process прогоняет конверт по цепочке и возвращает текст ответа.
func (p *Processor) Process(ctx context.Context, env envelope.Envelope) (string, error) {
	text := strings.TrimSpace(env.Text)
	if text == "" {
		return "", nil
	}

	// Активная сессия разбора перехватывает всё, кроме новых команд.
	if p.deps.Debrief != nil && p.deps.Debrief.Active(env.ChatID) && !strings.HasPrefix(text, "/") {
		return p.deps.Debrief.Handle(ctx, env.ChatID, text)
	}

	switch strings.ToLower(text) {
	case "/today":
		return p.renderToday(ctx)
	case "/debrief":
		if p.deps.Debrief == nil {
			return MsgProcessFail, nil
		}
		return p.deps.Debrief.Start(ctx, env.ChatID)
	}

	key := env.IdempotencyKey()
	verdict, err := p.deps.Audit.CheckAndLog(ctx, key)
	if err != nil {
		if fault.IsTransient(err) {
			return p.captureOffline(env)
		}
		return "", err
	}
	if verdict == audit.VerdictDuplicate {
		return MsgDuplicate, nil
	}

	if out, err := p.deps.Corrections.Process(ctx, text, env.ChatID, env.MessageID); err != nil {
		return p.maybeOffline(env, text, err)
	} else if out.Handled {
		return out.Reply, nil
	}

	if corrections.IsUndo(text) {
		res, err := p.deps.Deleter.UndoLast(ctx, env.ChatID)
		if err != nil {
			return "", err
		}
		return res.Message, nil
	}

	if query, ok := proximityQuery(text); ok {
		return p.handleProximity(ctx, query)
	}

	if query, ok := researchQuery(text); ok && p.deps.Researcher != nil {
		return p.handleResearch(ctx, env, query)
	}

	return p.classify(ctx, env, key, text)
}

// classify — обычный путь: извлечение, паттерны, связывание и запись.
func (p *Processor) classify(ctx context.Context, env envelope.Envelope, key, text string) (string, error) {
	entities := extract.Extract(text, p.deps.Parser)
	title, applied := p.deps.Applicator.Apply(text, &entities)
	if len(applied) > 0 {
		logger.Debugf("processor: %d patterns applied to %q", len(applied), key)
	}

	linked, err := p.deps.Linker.Relations(ctx, entities, "", true)
	if err != nil {
		return p.maybeOffline(env, title, err)
	}

	conf := classificationConfidence(text, entities, linked)
	due, hasDue := entities.FirstDate()

	if !hasDue && !startsWithImperative(text) {
		return p.captureInbox(ctx, env, key, title, conf)
	}

	task := kb.Task{
		Title:      title,
		Status:     kb.TaskTodo,
		Priority:   kb.PriorityMedium,
		Source:     env.Source(),
		Confidence: conf,
		CreatedBy:  kb.CreatedByAI,
		PeopleIDs:  linked.PeopleIDs(),
		PlaceIDs:   linked.PlaceIDs(),
		ProjectID:  linked.ProjectID(),
	}
	if hasDue {
		task.Due = &due.At
		task.TimezoneName = due.ZoneName
	}

	created, err := p.deps.Gateway.CreateTask(ctx, task)
	if err != nil {
		return p.maybeOffline(env, title, err)
	}

	p.deps.Book.Track(recent.Action{
		Type:      kb.ActionCreate,
		Entity:    kb.EntityTask,
		EntityID:  created.ID,
		Title:     created.Title,
		ChatID:    env.ChatID,
		MessageID: env.MessageID,
		At:        p.deps.Now(),
	})

	if err := p.deps.Audit.LogCreate(ctx, key, kb.EntityTask, created.ID, text,
		"task created: "+created.Title, conf); err != nil {
		logger.Warnf("processor: audit create %s: %v", key, err)
	}

	p.scheduleCalendar(ctx, created)

	return Acknowledgement(created.Title, task.Due, p.deps.Location, linked), nil
}

// CreateTaskFromText — сокращённый путь создания задачи из свободного текста.
// Им пользуется разбор /debrief: извлечение и связывание те же, но без
// идемпотентной проверки и ответа в транспорт.
func (p *Processor) CreateTaskFromText(ctx context.Context, chatID, text string) (kb.Task, error) {
	entities := extract.Extract(text, p.deps.Parser)
	title, _ := p.deps.Applicator.Apply(text, &entities)

	linked, err := p.deps.Linker.Relations(ctx, entities, "", true)
	if err != nil {
		return kb.Task{}, errors.Wrap(err, "processor: link debrief task")
	}

	task := kb.Task{
		Title:      title,
		Status:     kb.TaskTodo,
		Priority:   kb.PriorityMedium,
		Source:     kb.SourceScheduler,
		Confidence: classificationConfidence(text, entities, linked),
		CreatedBy:  kb.CreatedByHuman,
		PeopleIDs:  linked.PeopleIDs(),
		PlaceIDs:   linked.PlaceIDs(),
		ProjectID:  linked.ProjectID(),
	}
	if due, ok := entities.FirstDate(); ok {
		task.Due = &due.At
		task.TimezoneName = due.ZoneName
	}

	created, err := p.deps.Gateway.CreateTask(ctx, task)
	if err != nil {
		return kb.Task{}, errors.Wrap(err, "processor: create debrief task")
	}

	p.deps.Book.Track(recent.Action{
		Type:     kb.ActionCreate,
		Entity:   kb.EntityTask,
		EntityID: created.ID,
		Title:    created.Title,
		ChatID:   chatID,
		At:       p.deps.Now(),
	})
	return created, nil
}

// captureInbox пишет неясный ввод во входящие.
func (p *Processor) captureInbox(ctx context.Context, env envelope.Envelope, key, title string, conf int) (string, error) {
	needsWork := conf < p.opts.ConfidenceThreshold

	item, err := p.deps.Gateway.CreateInboxItem(ctx, kb.InboxItem{
		RawInput:           env.Text,
		Source:             env.Source(),
		ChatID:             env.ChatID,
		MessageID:          env.MessageID,
		Confidence:         conf,
		NeedsClarification: needsWork,
	})
	if err != nil {
		return p.maybeOffline(env, title, err)
	}

	p.deps.Book.Track(recent.Action{
		Type:      kb.ActionCapture,
		Entity:    kb.EntityInbox,
		EntityID:  item.ID,
		Title:     title,
		ChatID:    env.ChatID,
		MessageID: env.MessageID,
		At:        p.deps.Now(),
	})

	if err := p.deps.Audit.LogCapture(ctx, key, env.Text, title, conf, item.ID); err != nil {
		logger.Warnf("processor: audit capture %s: %v", key, err)
	}

	if needsWork {
		return "Noted, but I'm not sure what to do with it. It's in your inbox for /debrief.", nil
	}
	return "Noted. Added to your inbox.", nil
}

// scheduleCalendar создаёт событие по задаче со сроком. Сбой календаря не
// мешает ответу пользователю.
func (p *Processor) scheduleCalendar(ctx context.Context, task kb.Task) {
	if p.deps.Calendar == nil || task.Due == nil {
		return
	}

	key := audit.CalendarKey(task.ID, *task.Due)
	verdict, _, err := p.deps.Audit.Check(ctx, key)
	if err != nil || verdict == audit.VerdictDuplicate {
		return
	}

	event, err := p.deps.Calendar.CreateEvent(ctx, extsvc.Event{
		Title:    task.Title,
		Start:    *task.Due,
		End:      task.Due.Add(time.Hour),
		ZoneName: task.TimezoneName,
		TaskID:   task.ID,
	})
	if err != nil {
		logger.Warnf("processor: calendar event for %s: %v", task.ID, err)
		return
	}
	if err := p.deps.Audit.LogCalendarCreate(ctx, key, task.ID, event.ID); err != nil {
		logger.Warnf("processor: audit calendar %s: %v", key, err)
	}
}

// maybeOffline переводит временный сбой базы знаний в офлайн-захват;
// остальные ошибки поднимает наверх.
func (p *Processor) maybeOffline(env envelope.Envelope, title string, err error) (string, error) {
	if !fault.IsTransient(err) {
		return "", err
	}
	logger.Warnf("processor: KB transient failure, capturing %q offline: %v", title, err)
	return p.captureOffline(env)
}

// captureOffline кладёт сообщение в очередь как входящее и отвечает сразу.
func (p *Processor) captureOffline(env envelope.Envelope) (string, error) {
	err := p.deps.Queue.EnqueueInboxItem(
		env.IdempotencyKey(), env.Text, env.Source(), env.ChatID, env.MessageID, 0, true)
	if err != nil {
		return "", errors.Wrap(err, "processor: offline capture")
	}
	return queue.OfflineReply, nil
}

// renderToday — ответ на /today: список задач с сегодняшним сроком.
func (p *Processor) renderToday(ctx context.Context) (string, error) {
	now := p.deps.Now().In(p.deps.Location)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.deps.Location)
	until := from.AddDate(0, 0, 1)

	tasks, err := p.deps.Gateway.QueryTasks(ctx, kb.TaskQuery{
		DueFrom:         &from,
		DueUntil:        &until,
		ExcludeStatuses: []kb.TaskStatus{kb.TaskDone, kb.TaskCancelled, kb.TaskDeleted},
	})
	if err != nil {
		return "", errors.Wrap(err, "processor: query today")
	}
	if len(tasks) == 0 {
		return MsgNothingDue, nil
	}

	var b strings.Builder
	b.WriteString("Due today:\n")
	for _, t := range tasks {
		b.WriteString("- " + t.Title)
		if t.Due != nil {
			local := t.Due.In(p.deps.Location)
			if local.Hour() != 0 || local.Minute() != 0 {
				b.WriteString(" at " + clock(local))
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// classificationConfidence оценивает уверенность классификации: база 50,
// дата +25, императив +20, каждая уверенная связь +5, потолок 100.
func classificationConfidence(text string, entities extract.Entities, linked link.Linked) int {
	conf := 50
	if entities.HasDate() {
		conf += 25
	}
	if startsWithImperative(text) {
		conf += 20
	}
	for _, e := range linked.People {
		if e.Confidence >= 0.7 {
			conf += 5
		}
	}
	for _, e := range linked.Places {
		if e.Confidence >= 0.7 {
			conf += 5
		}
	}
	conf = shared.Clamp(conf, 0, 100)
	if linked.NeedsReview {
		conf -= 15
	}
	return shared.Clamp(conf, 0, 100)
}

// startsWithImperative сообщает, начинается ли текст с глагола-команды.
func startsWithImperative(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], ".,!?"))
	return imperativeVerbs[first]
}
