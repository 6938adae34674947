// Package kbtest — эталонная in-memory реализация kb.Gateway для тестов.
// Повторяет контракты шлюза (видимость удалённых, частичные обновления,
// идемпотентный индекс журнала) и умеет имитировать отказ хранилища через
// FailWith, что нужно тестам офлайн-очереди и восстановления.
package kbtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"second-brain/internal/domain/kb"
	"second-brain/internal/shared/fault"
)

// Fake — потокобезопасный Gateway в памяти.
type Fake struct {
	mu     sync.Mutex
	nextID int

	tasks    map[string]kb.Task
	people   map[string]kb.Person
	places   map[string]kb.Place
	projects map[string]kb.Project
	inbox    map[string]kb.InboxItem
	patterns map[string]kb.Pattern
	log      []kb.LogEntry
	emails   map[string]kb.Email

	// createdTaskTitles — порядок CreateTask, нужен тестам порядка дренирования.
	createdTaskTitles []string

	failErr error

	// Now — источник времени; подменяется в тестах.
	Now func() time.Time
}

// NewFake создаёт пустой шлюз.
func NewFake() *Fake {
	return &Fake{
		tasks:    make(map[string]kb.Task),
		people:   make(map[string]kb.Person),
		places:   make(map[string]kb.Place),
		projects: make(map[string]kb.Project),
		inbox:    make(map[string]kb.InboxItem),
		patterns: make(map[string]kb.Pattern),
		emails:   make(map[string]kb.Email),
		Now:      time.Now,
	}
}

// FailWith переводит шлюз в режим отказа: все операции возвращают err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// Heal снимает режим отказа.
func (f *Fake) Heal() {
	f.FailWith(nil)
}

// CreatedTaskTitles возвращает названия задач в порядке их создания.
func (f *Fake) CreatedTaskTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.createdTaskTitles))
	copy(out, f.createdTaskTitles)
	return out
}

// LogEntries возвращает копию журнала.
func (f *Fake) LogEntries() []kb.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kb.LogEntry, len(f.log))
	copy(out, f.log)
	return out
}

func (f *Fake) checkFail() error {
	return f.failErr
}

func (f *Fake) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func notFound(entity kb.EntityType, id string) error {
	return fault.Newf(fault.KindNotFound, "%s %q not found", entity, id)
}

// Ping выполняет пустую проверку доступности.
func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkFail()
}

// CreateTask сохраняет задачу, назначая идентификатор и метки времени.
func (f *Fake) CreateTask(ctx context.Context, task kb.Task) (kb.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Task{}, err
	}

	task.ID = f.genID("task")
	task.CreatedAt = f.Now()
	task.LastModifiedAt = task.CreatedAt
	f.tasks[task.ID] = task
	f.createdTaskTitles = append(f.createdTaskTitles, task.Title)
	return task, nil
}

// GetTask возвращает задачу по идентификатору.
func (f *Fake) GetTask(ctx context.Context, id string) (kb.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Task{}, err
	}

	task, ok := f.tasks[id]
	if !ok {
		return kb.Task{}, notFound(kb.EntityTask, id)
	}
	return task, nil
}

// QueryTasks фильтрует задачи по окну сроков, статусам и видимости.
func (f *Fake) QueryTasks(ctx context.Context, q kb.TaskQuery) ([]kb.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	excluded := make(map[kb.TaskStatus]bool, len(q.ExcludeStatuses))
	for _, s := range q.ExcludeStatuses {
		excluded[s] = true
	}

	var out []kb.Task
	for _, task := range f.tasks {
		if task.DeletedAt != nil && !q.IncludeDeleted {
			continue
		}
		if excluded[task.Status] {
			continue
		}
		if q.DueFrom != nil && (task.Due == nil || task.Due.Before(*q.DueFrom)) {
			continue
		}
		if q.DueUntil != nil && (task.Due == nil || !task.Due.Before(*q.DueUntil)) {
			continue
		}
		out = append(out, task)
	}

	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Due, out[j].Due
		switch {
		case di == nil && dj == nil:
			return out[i].ID < out[j].ID
		case di == nil:
			return false
		case dj == nil:
			return true
		case di.Equal(*dj):
			return out[i].ID < out[j].ID
		default:
			return di.Before(*dj)
		}
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpdateTaskFields применяет частичное обновление.
func (f *Fake) UpdateTaskFields(ctx context.Context, id string, patch kb.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}

	task, ok := f.tasks[id]
	if !ok {
		return notFound(kb.EntityTask, id)
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Due != nil {
		due := *patch.Due
		task.Due = &due
	}
	if patch.ClearDue {
		task.Due = nil
	}
	if patch.TimezoneName != nil {
		task.TimezoneName = *patch.TimezoneName
	}
	if patch.Notes != nil {
		task.Notes = *patch.Notes
	}
	task.LastModifiedAt = f.Now()
	f.tasks[id] = task
	return nil
}

// SoftDelete ставит отметку удаления, не трогая другие поля.
func (f *Fake) SoftDelete(ctx context.Context, entity kb.EntityType, id string) error {
	return f.setDeleted(entity, id, true)
}

// UndoDelete очищает отметку удаления.
func (f *Fake) UndoDelete(ctx context.Context, entity kb.EntityType, id string) error {
	return f.setDeleted(entity, id, false)
}

func (f *Fake) setDeleted(entity kb.EntityType, id string, deleted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}

	var stamp *time.Time
	if deleted {
		now := f.Now()
		stamp = &now
	}

	switch entity {
	case kb.EntityTask:
		rec, ok := f.tasks[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.DeletedAt = stamp
		f.tasks[id] = rec
	case kb.EntityPerson:
		rec, ok := f.people[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.DeletedAt = stamp
		f.people[id] = rec
	case kb.EntityPlace:
		rec, ok := f.places[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.DeletedAt = stamp
		f.places[id] = rec
	case kb.EntityProject:
		rec, ok := f.projects[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.DeletedAt = stamp
		f.projects[id] = rec
	case kb.EntityInbox:
		rec, ok := f.inbox[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.DeletedAt = stamp
		f.inbox[id] = rec
	default:
		return fault.Newf(fault.KindValidation, "unknown entity type %q", entity)
	}
	return nil
}

// UpdateTitle переименовывает запись любой таблицы.
func (f *Fake) UpdateTitle(ctx context.Context, entity kb.EntityType, id string, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}

	switch entity {
	case kb.EntityTask:
		rec, ok := f.tasks[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.Title = title
		rec.LastModifiedAt = f.Now()
		f.tasks[id] = rec
	case kb.EntityPerson:
		rec, ok := f.people[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.Name = title
		f.people[id] = rec
	case kb.EntityPlace:
		rec, ok := f.places[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.Name = title
		f.places[id] = rec
	case kb.EntityProject:
		rec, ok := f.projects[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.Name = title
		f.projects[id] = rec
	case kb.EntityInbox:
		rec, ok := f.inbox[id]
		if !ok {
			return notFound(entity, id)
		}
		rec.RawInput = title
		f.inbox[id] = rec
	default:
		return fault.Newf(fault.KindValidation, "unknown entity type %q", entity)
	}
	return nil
}

// CreatePerson сохраняет человека.
func (f *Fake) CreatePerson(ctx context.Context, person kb.Person) (kb.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Person{}, err
	}

	person.ID = f.genID("person")
	person.CreatedAt = f.Now()
	f.people[person.ID] = person
	return person, nil
}

// QueryPeople ищет по подстроке в имени или алиасах; пустое имя — все записи.
func (f *Fake) QueryPeople(ctx context.Context, q kb.PersonQuery) ([]kb.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(q.Name)
	var out []kb.Person
	for _, person := range f.people {
		if person.DeletedAt != nil && !q.IncludeDeleted {
			continue
		}
		if needle != "" && !personMatches(person, needle) {
			continue
		}
		out = append(out, person)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func personMatches(person kb.Person, needle string) bool {
	if strings.Contains(strings.ToLower(person.Name), needle) {
		return true
	}
	for _, alias := range person.Aliases {
		if strings.Contains(strings.ToLower(alias), needle) {
			return true
		}
	}
	return false
}

// CreatePlace сохраняет место.
func (f *Fake) CreatePlace(ctx context.Context, place kb.Place) (kb.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Place{}, err
	}

	place.ID = f.genID("place")
	place.CreatedAt = f.Now()
	f.places[place.ID] = place
	return place, nil
}

// QueryPlaces ищет по подстроке в имени или адресе, с фильтром по типу.
func (f *Fake) QueryPlaces(ctx context.Context, q kb.PlaceQuery) ([]kb.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(q.Name)
	var out []kb.Place
	for _, place := range f.places {
		if place.DeletedAt != nil && !q.IncludeDeleted {
			continue
		}
		if q.Type != "" && place.Type != q.Type {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(place.Name), needle) &&
			!strings.Contains(strings.ToLower(place.Address), needle) {
			continue
		}
		out = append(out, place)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpdatePlaceFields применяет частичное обновление места.
func (f *Fake) UpdatePlaceFields(ctx context.Context, id string, patch kb.PlacePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}

	place, ok := f.places[id]
	if !ok {
		return notFound(kb.EntityPlace, id)
	}
	if patch.Address != nil {
		place.Address = *patch.Address
	}
	if patch.Geo != nil {
		geo := *patch.Geo
		place.Geo = &geo
	}
	if patch.ExternalPlaceID != nil {
		place.ExternalPlaceID = *patch.ExternalPlaceID
	}
	if patch.Rating != nil {
		place.Rating = *patch.Rating
	}
	if patch.LastVisit != nil {
		visit := *patch.LastVisit
		place.LastVisit = &visit
	}
	if patch.Notes != nil {
		place.Notes = *patch.Notes
	}
	f.places[id] = place
	return nil
}

// CreateProject сохраняет проект.
func (f *Fake) CreateProject(ctx context.Context, project kb.Project) (kb.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Project{}, err
	}

	project.ID = f.genID("project")
	project.CreatedAt = f.Now()
	f.projects[project.ID] = project
	return project, nil
}

// QueryProjects ищет по подстроке в имени, с фильтром по статусу.
func (f *Fake) QueryProjects(ctx context.Context, q kb.ProjectQuery) ([]kb.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(q.Name)
	var out []kb.Project
	for _, project := range f.projects {
		if project.DeletedAt != nil && !q.IncludeDeleted {
			continue
		}
		if q.Status != "" && project.Status != q.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(project.Name), needle) {
			continue
		}
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CreateInboxItem сохраняет входящую запись.
func (f *Fake) CreateInboxItem(ctx context.Context, item kb.InboxItem) (kb.InboxItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.InboxItem{}, err
	}

	item.ID = f.genID("inbox")
	item.CreatedAt = f.Now()
	f.inbox[item.ID] = item
	return item, nil
}

// QueryInbox фильтрует входящие по флагам обработки и неоднозначности.
func (f *Fake) QueryInbox(ctx context.Context, q kb.InboxQuery) ([]kb.InboxItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	var out []kb.InboxItem
	for _, item := range f.inbox {
		if item.DeletedAt != nil {
			continue
		}
		if q.NeedsClarification != nil && item.NeedsClarification != *q.NeedsClarification {
			continue
		}
		if q.Processed != nil && item.Processed != *q.Processed {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MarkInboxProcessed помечает запись обработанной и связывает с задачей.
func (f *Fake) MarkInboxProcessed(ctx context.Context, id string, linkedTaskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}

	item, ok := f.inbox[id]
	if !ok {
		return notFound(kb.EntityInbox, id)
	}
	item.Processed = true
	if linkedTaskID != "" {
		item.LinkedTaskID = linkedTaskID
	}
	f.inbox[id] = item
	return nil
}

// CreatePattern сохраняет правило.
func (f *Fake) CreatePattern(ctx context.Context, pattern kb.Pattern) (kb.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Pattern{}, err
	}

	pattern.ID = f.genID("pattern")
	pattern.CreatedAt = f.Now()
	f.patterns[pattern.ID] = pattern
	return pattern, nil
}

// QueryPatterns возвращает правила с Confidence ≥ MinConfidence,
// отсортированные по убыванию уверенности.
func (f *Fake) QueryPatterns(ctx context.Context, q kb.PatternQuery) ([]kb.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	var out []kb.Pattern
	for _, pattern := range f.patterns {
		if pattern.Confidence < q.MinConfidence {
			continue
		}
		out = append(out, pattern)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpdatePatternFields применяет частичное обновление правила.
func (f *Fake) UpdatePatternFields(ctx context.Context, id string, patch kb.PatternPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return err
	}

	pattern, ok := f.patterns[id]
	if !ok {
		return fault.Newf(fault.KindNotFound, "pattern %q not found", id)
	}
	if patch.Confidence != nil {
		pattern.Confidence = *patch.Confidence
	}
	if patch.TimesConfirmed != nil {
		pattern.TimesConfirmed = *patch.TimesConfirmed
	}
	if patch.LastUsed != nil {
		used := *patch.LastUsed
		pattern.LastUsed = &used
	}
	f.patterns[id] = pattern
	return nil
}

// CreateLogEntry добавляет запись журнала.
func (f *Fake) CreateLogEntry(ctx context.Context, entry kb.LogEntry) (kb.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.LogEntry{}, err
	}

	entry.ID = f.genID("log")
	if entry.Timestamp.IsZero() {
		entry.Timestamp = f.Now()
	}
	f.log = append(f.log, entry)
	return entry, nil
}

// CheckDedupe ищет запись журнала с данным идемпотентным ключом.
func (f *Fake) CheckDedupe(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return "", false, err
	}

	for _, entry := range f.log {
		if entry.IdempotencyKey == key {
			return entry.ID, true, nil
		}
	}
	return "", false, nil
}

// QueryLog фильтрует журнал по ключу, типам действий и времени.
func (f *Fake) QueryLog(ctx context.Context, q kb.LogQuery) ([]kb.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	types := make(map[kb.ActionType]bool, len(q.ActionTypes))
	for _, at := range q.ActionTypes {
		types[at] = true
	}

	var out []kb.LogEntry
	for _, entry := range f.log {
		if q.IdempotencyKey != "" && entry.IdempotencyKey != q.IdempotencyKey {
			continue
		}
		if len(types) > 0 && !types[entry.ActionType] {
			continue
		}
		if q.Since != nil && entry.Timestamp.Before(*q.Since) {
			continue
		}
		out = append(out, entry)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CreateEmail сохраняет письмо.
func (f *Fake) CreateEmail(ctx context.Context, email kb.Email) (kb.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return kb.Email{}, err
	}

	email.ID = f.genID("email")
	email.CreatedAt = f.Now()
	f.emails[email.ID] = email
	return email, nil
}

// QueryEmails фильтрует письма по отправителю.
func (f *Fake) QueryEmails(ctx context.Context, q kb.EmailQuery) ([]kb.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(); err != nil {
		return nil, err
	}

	var out []kb.Email
	for _, email := range f.emails {
		if email.DeletedAt != nil {
			continue
		}
		if q.Sender != "" && !strings.EqualFold(email.Sender, q.Sender) {
			continue
		}
		out = append(out, email)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
