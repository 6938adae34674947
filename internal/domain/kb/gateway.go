package kb

import (
	"context"
	"time"
)

// TaskQuery — фильтры выборки задач. Нулевые поля не участвуют в фильтрации.
type TaskQuery struct {
	DueFrom  *time.Time // включительно
	DueUntil *time.Time // исключительно

	ExcludeStatuses []TaskStatus
	IncludeDeleted  bool
	Limit           int
}

// TaskPatch — частичное обновление задачи. nil-поля не трогаются.
type TaskPatch struct {
	Title        *string
	Status       *TaskStatus
	Priority     *TaskPriority
	Due          *time.Time
	ClearDue     bool
	TimezoneName *string
	Notes        *string
}

// PersonQuery — выборка людей. Пустое имя означает «все» (в пределах Limit).
type PersonQuery struct {
	Name           string
	IncludeDeleted bool
	Limit          int
}

// PlaceQuery — выборка мест по имени и/или типу.
type PlaceQuery struct {
	Name           string
	Type           PlaceType
	IncludeDeleted bool
	Limit          int
}

// PlacePatch — частичное обновление места (обогащение геоданными и пр.).
type PlacePatch struct {
	Address         *string
	Geo             *GeoPoint
	ExternalPlaceID *string
	Rating          *int
	LastVisit       *time.Time
	Notes           *string
}

// ProjectQuery — выборка проектов по имени и/или статусу.
type ProjectQuery struct {
	Name           string
	Status         ProjectStatus
	IncludeDeleted bool
	Limit          int
}

// InboxQuery — выборка входящих. Указатели различают «не фильтровать» и
// «фильтровать по значению».
type InboxQuery struct {
	NeedsClarification *bool
	Processed          *bool
	Limit              int
}

// PatternQuery — выборка правил с порогом уверенности.
type PatternQuery struct {
	MinConfidence int
	Limit         int
}

// PatternPatch — частичное обновление правила.
type PatternPatch struct {
	Confidence     *int
	TimesConfirmed *int
	LastUsed       *time.Time
}

// LogQuery — выборка журнала аудита.
type LogQuery struct {
	IdempotencyKey string
	ActionTypes    []ActionType
	Since          *time.Time
	Limit          int
}

// EmailQuery — выборка писем.
type EmailQuery struct {
	Sender string
	Limit  int
}

// Gateway — единственная точка доступа к внешней базе знаний.
//
// Контракты:
//   - все выборки скрывают записи с DeletedAt != nil, пока не задан IncludeDeleted;
//   - SoftDelete ставит DeletedAt = now, UndoDelete очищает его; другие поля
//     не затрагиваются;
//   - CreateLogEntry — единственный писатель идемпотентного индекса; уникальность
//     ключа обеспечивается проверкой CheckDedupe перед вставкой;
//   - шлюз сам не ретраит: классифицированная ошибка поднимается наверх, решение
//     о повторе или постановке в офлайн-очередь принимает вызывающий.
//
// Все ошибки классифицированы через internal/shared/fault.
type Gateway interface {
	// Ping проверяет доступность хранилища (лёгкий запрос). Для self-test.
	Ping(ctx context.Context) error

	// Задачи.
	CreateTask(ctx context.Context, task Task) (Task, error)
	QueryTasks(ctx context.Context, q TaskQuery) ([]Task, error)
	UpdateTaskFields(ctx context.Context, id string, patch TaskPatch) error

	// Универсальные операции над любой таблицей.
	SoftDelete(ctx context.Context, entity EntityType, id string) error
	UndoDelete(ctx context.Context, entity EntityType, id string) error
	UpdateTitle(ctx context.Context, entity EntityType, id string, title string) error
	GetTask(ctx context.Context, id string) (Task, error)

	// Люди.
	CreatePerson(ctx context.Context, person Person) (Person, error)
	QueryPeople(ctx context.Context, q PersonQuery) ([]Person, error)

	// Места.
	CreatePlace(ctx context.Context, place Place) (Place, error)
	QueryPlaces(ctx context.Context, q PlaceQuery) ([]Place, error)
	UpdatePlaceFields(ctx context.Context, id string, patch PlacePatch) error

	// Проекты.
	CreateProject(ctx context.Context, project Project) (Project, error)
	QueryProjects(ctx context.Context, q ProjectQuery) ([]Project, error)

	// Входящие.
	CreateInboxItem(ctx context.Context, item InboxItem) (InboxItem, error)
	QueryInbox(ctx context.Context, q InboxQuery) ([]InboxItem, error)
	MarkInboxProcessed(ctx context.Context, id string, linkedTaskID string) error

	// Правила.
	CreatePattern(ctx context.Context, pattern Pattern) (Pattern, error)
	QueryPatterns(ctx context.Context, q PatternQuery) ([]Pattern, error)
	UpdatePatternFields(ctx context.Context, id string, patch PatternPatch) error

	// Журнал аудита и идемпотентный индекс.
	CreateLogEntry(ctx context.Context, entry LogEntry) (LogEntry, error)
	CheckDedupe(ctx context.Context, key string) (existingID string, found bool, err error)
	QueryLog(ctx context.Context, q LogQuery) ([]LogEntry, error)

	// Письма.
	CreateEmail(ctx context.Context, email Email) (Email, error)
	QueryEmails(ctx context.Context, q EmailQuery) ([]Email, error)
}
