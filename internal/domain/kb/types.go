// Package kb — типизированная модель внешней базы знаний и интерфейс шлюза.
// Все записи (задачи, люди, места, проекты, входящие, журнал, паттерны, письма)
// живут строками во внешнем хранилище; остальные компоненты оперируют
// исключительно типизированными записями и идентификаторами. Шлюз — единственная
// точка записи: никто, кроме него, не трогает строки напрямую.
package kb

import "time"

// EntityType различает таблицы базы знаний в универсальных операциях
// (soft delete, undo, переименование).
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityPerson  EntityType = "person"
	EntityPlace   EntityType = "place"
	EntityProject EntityType = "project"
	EntityInbox   EntityType = "inbox"

	// EntityCalendar — виртуальная сущность для действий календаря в журнале;
	// строк в базе знаний у неё нет.
	EntityCalendar EntityType = "calendar"
)

// TaskStatus — статус задачи.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
	TaskDeleted    TaskStatus = "deleted"
)

// TaskPriority — приоритет задачи.
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Source — происхождение записи: транспорт и модальность.
type Source string

const (
	SourceTelegramText  Source = "telegram-text"
	SourceTelegramVoice Source = "telegram-voice"
	SourceWhatsAppText  Source = "whatsapp-text"
	SourceWhatsAppVoice Source = "whatsapp-voice"
	SourceEmail         Source = "email"
	SourceScheduler     Source = "scheduler"
)

// CreatedBy — кто породил запись: человек напрямую или ассистент.
type CreatedBy string

const (
	CreatedByHuman CreatedBy = "human"
	CreatedByAI    CreatedBy = "ai"
)

// Task — задача. Инвариант видимости: DeletedAt == nil ⇔ запись видна
// в выборках по умолчанию.
type Task struct {
	ID       string
	Title    string
	Status   TaskStatus
	Priority TaskPriority

	// Due — срок с учётом зоны; TimezoneName хранит IANA-имя, в котором срок
	// был задан (само время нормализовано в эту зону).
	Due          *time.Time
	TimezoneName string

	Source     Source
	Confidence int // 0–100; 0 — не оценивалась
	CreatedBy  CreatedBy

	PeopleIDs []string
	PlaceIDs  []string
	ProjectID string

	ExternalDocID  string
	ExternalDocURL string
	Notes          string

	DeletedAt      *time.Time
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// Relationship — тип связи с человеком. Порядок приоритета при
// неоднозначности: partner > family > friend > colleague > acquaintance.
type Relationship string

const (
	RelPartner      Relationship = "partner"
	RelFamily       Relationship = "family"
	RelFriend       Relationship = "friend"
	RelColleague    Relationship = "colleague"
	RelAcquaintance Relationship = "acquaintance"
)

// Person — человек из базы знаний.
type Person struct {
	ID           string
	Name         string
	Aliases      []string
	Relationship Relationship
	LastContact  *time.Time
	Notes        string

	DeletedAt *time.Time
	CreatedAt time.Time
}

// PlaceType — тип места. Приоритет: home > office > restaurant > cinema > venue > other.
type PlaceType string

const (
	PlaceHome       PlaceType = "home"
	PlaceOffice     PlaceType = "office"
	PlaceRestaurant PlaceType = "restaurant"
	PlaceCinema     PlaceType = "cinema"
	PlaceVenue      PlaceType = "venue"
	PlaceOther      PlaceType = "other"
)

// GeoPoint — координаты места.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Place — место из базы знаний.
type Place struct {
	ID              string
	Name            string
	Type            PlaceType
	Address         string
	Geo             *GeoPoint
	ExternalPlaceID string
	LastVisit       *time.Time
	Rating          int // 0–5; 0 — нет оценки
	Notes           string

	DeletedAt *time.Time
	CreatedAt time.Time
}

// ProjectType — рабочий или личный проект.
type ProjectType string

const (
	ProjectWork     ProjectType = "work"
	ProjectPersonal ProjectType = "personal"
)

// ProjectStatus — состояние проекта. Активные предпочитаются при неоднозначности.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project — проект из базы знаний.
type Project struct {
	ID         string
	Name       string
	Type       ProjectType
	Status     ProjectStatus
	Deadline   *time.Time
	NextAction string
	Notes      string

	DeletedAt *time.Time
	CreatedAt time.Time
}

// InboxItem — сырой захват входящего сообщения до классификации.
type InboxItem struct {
	ID        string
	RawInput  string
	Source    Source
	ChatID    string // транспортные идентификаторы для идемпотентности
	MessageID string

	Confidence         int
	NeedsClarification bool
	Interpretation     string
	Processed          bool
	LinkedTaskID       string

	DeletedAt *time.Time
	CreatedAt time.Time
}

// ActionType — тип действия в журнале аудита.
type ActionType string

const (
	ActionCapture        ActionType = "capture"
	ActionCreate         ActionType = "create"
	ActionUpdate         ActionType = "update"
	ActionDelete         ActionType = "delete"
	ActionSend           ActionType = "send"
	ActionResearch       ActionType = "research"
	ActionCalendarCreate ActionType = "calendar-create"
	ActionError          ActionType = "error"
)

// LogEntry — запись журнала аудита. IdempotencyKey уникален в пределах журнала;
// уникальность обеспечивается проверкой перед вставкой на стороне шлюза.
type LogEntry struct {
	ID             string
	ActionType     ActionType
	IdempotencyKey string

	InputText      string
	Interpretation string
	ActionTaken    string
	Confidence     int

	EntitiesAffected   []string
	ExternalAPI        string
	ExternalResourceID string

	ErrorCode    string
	ErrorMessage string
	RetryCount   int

	Correction         string
	CorrectedAt        *time.Time
	UndoAvailableUntil *time.Time

	Timestamp time.Time
}

// PatternType — к какому роду сущностей относится выученное правило.
type PatternType string

const (
	PatternName     PatternType = "name"
	PatternPerson   PatternType = "person"
	PatternPlace    PatternType = "place"
	PatternPriority PatternType = "priority"
	PatternDate     PatternType = "date"
)

// Pattern — выученное правило «что пользователь имеет в виду».
// Инварианты: TimesConfirmed ≥ 3 для сохранённых правил;
// автоприменение разрешено при Confidence ≥ 70.
type Pattern struct {
	ID             string
	Trigger        string
	Meaning        string
	Confidence     int
	TimesConfirmed int
	Type           PatternType
	LastUsed       *time.Time

	CreatedAt time.Time
}

// Email — письмо, захваченное сканером почты.
type Email struct {
	ID         string
	Sender     string
	Subject    string
	Summary    string
	NeedsReply bool
	ReceivedAt time.Time

	DeletedAt *time.Time
	CreatedAt time.Time
}
