package notion

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
)

// Databases — маршрутизация таблиц базы знаний по идентификаторам.
type Databases struct {
	Tasks    string
	People   string
	Places   string
	Projects string
	Inbox    string
	Patterns string
	Log      string
	Emails   string
}

// Gateway реализует kb.Gateway поверх REST-клиента страниц.
type Gateway struct {
	client *Client
	dbs    Databases
	now    func() time.Time
}

// NewGateway создаёт шлюз. nowFn подменяет источник времени в тестах.
func NewGateway(client *Client, dbs Databases, nowFn func() time.Time) *Gateway {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Gateway{client: client, dbs: dbs, now: nowFn}
}

// titleField — имя титульного свойства таблицы для универсальных операций.
var titleField = map[kb.EntityType]string{
	kb.EntityTask:    "Name",
	kb.EntityPerson:  "Name",
	kb.EntityPlace:   "Name",
	kb.EntityProject: "Name",
	kb.EntityInbox:   "Raw Input",
}

// Фрагменты фильтров.

func notDeletedFilter() map[string]any {
	return map[string]any{"property": "Deleted At", "date": map[string]any{"is_empty": true}}
}

func andFilter(clauses ...map[string]any) map[string]any {
	flat := make([]map[string]any, 0, len(clauses))
	for _, c := range clauses {
		if c != nil {
			flat = append(flat, c)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return map[string]any{"and": flat}
	}
}

func orFilter(clauses ...map[string]any) map[string]any {
	flat := make([]map[string]any, 0, len(clauses))
	for _, c := range clauses {
		if c != nil {
			flat = append(flat, c)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return map[string]any{"or": flat}
	}
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx, g.dbs.Tasks)
}

func (g *Gateway) CreateTask(ctx context.Context, task kb.Task) (kb.Task, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.Tasks, taskProps(task))
	if err != nil {
		return kb.Task{}, err
	}
	task.ID = page.ID
	task.CreatedAt = page.CreatedTime
	return task, nil
}

func (g *Gateway) QueryTasks(ctx context.Context, q kb.TaskQuery) ([]kb.Task, error) {
	var clauses []map[string]any
	if !q.IncludeDeleted {
		clauses = append(clauses, notDeletedFilter())
	}
	if q.DueFrom != nil {
		clauses = append(clauses, map[string]any{
			"property": "Due",
			"date":     map[string]any{"on_or_after": q.DueFrom.Format(time.RFC3339)},
		})
	}
	if q.DueUntil != nil {
		clauses = append(clauses, map[string]any{
			"property": "Due",
			"date":     map[string]any{"before": q.DueUntil.Format(time.RFC3339)},
		})
	}
	for _, status := range q.ExcludeStatuses {
		clauses = append(clauses, map[string]any{
			"property": "Status",
			"select":   map[string]any{"does_not_equal": string(status)},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Tasks, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	tasks := make([]kb.Task, 0, len(pages))
	for _, page := range pages {
		task, err := taskFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map task")
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (g *Gateway) UpdateTaskFields(ctx context.Context, id string, patch kb.TaskPatch) error {
	props := map[string]any{}
	if patch.Title != nil {
		props["Name"] = titleProp(*patch.Title)
	}
	if patch.Status != nil {
		props["Status"] = selectProp(string(*patch.Status))
	}
	if patch.Priority != nil {
		props["Priority"] = selectProp(string(*patch.Priority))
	}
	if patch.Due != nil {
		zone := ""
		if patch.TimezoneName != nil {
			zone = *patch.TimezoneName
		}
		props["Due"] = dateProp(patch.Due, zone)
	} else if patch.ClearDue {
		props["Due"] = dateProp(nil, "")
	}
	if patch.TimezoneName != nil {
		props["Timezone"] = richTextProp(*patch.TimezoneName)
	}
	if patch.Notes != nil {
		props["Notes"] = richTextProp(*patch.Notes)
	}
	if len(props) == 0 {
		return nil
	}
	return g.client.UpdatePage(ctx, id, props)
}

// SoftDelete ставит отметку удаления. Страница адресуется идентификатором,
// таблица значения не имеет.
func (g *Gateway) SoftDelete(ctx context.Context, _ kb.EntityType, id string) error {
	now := g.now()
	return g.client.UpdatePage(ctx, id, map[string]any{"Deleted At": dateProp(&now, "")})
}

func (g *Gateway) UndoDelete(ctx context.Context, _ kb.EntityType, id string) error {
	return g.client.UpdatePage(ctx, id, map[string]any{"Deleted At": dateProp(nil, "")})
}

func (g *Gateway) UpdateTitle(ctx context.Context, entity kb.EntityType, id string, title string) error {
	field, ok := titleField[entity]
	if !ok {
		field = "Name"
	}
	return g.client.UpdatePage(ctx, id, map[string]any{field: titleProp(title)})
}

func (g *Gateway) GetTask(ctx context.Context, id string) (kb.Task, error) {
	page, err := g.client.GetPage(ctx, id)
	if err != nil {
		return kb.Task{}, err
	}
	return taskFromPage(page)
}

func (g *Gateway) CreatePerson(ctx context.Context, person kb.Person) (kb.Person, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.People, personProps(person))
	if err != nil {
		return kb.Person{}, err
	}
	person.ID = page.ID
	person.CreatedAt = page.CreatedTime
	return person, nil
}

func (g *Gateway) QueryPeople(ctx context.Context, q kb.PersonQuery) ([]kb.Person, error) {
	var clauses []map[string]any
	if !q.IncludeDeleted {
		clauses = append(clauses, notDeletedFilter())
	}
	if q.Name != "" {
		clauses = append(clauses, orFilter(
			map[string]any{"property": "Name", "title": map[string]any{"contains": q.Name}},
			map[string]any{"property": "Aliases", "multi_select": map[string]any{"contains": q.Name}},
		))
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.People, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	people := make([]kb.Person, 0, len(pages))
	for _, page := range pages {
		person, err := personFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map person")
		}
		people = append(people, person)
	}
	return people, nil
}

func (g *Gateway) CreatePlace(ctx context.Context, place kb.Place) (kb.Place, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.Places, placeProps(place))
	if err != nil {
		return kb.Place{}, err
	}
	place.ID = page.ID
	place.CreatedAt = page.CreatedTime
	return place, nil
}

func (g *Gateway) QueryPlaces(ctx context.Context, q kb.PlaceQuery) ([]kb.Place, error) {
	var clauses []map[string]any
	if !q.IncludeDeleted {
		clauses = append(clauses, notDeletedFilter())
	}
	if q.Name != "" {
		clauses = append(clauses, orFilter(
			map[string]any{"property": "Name", "title": map[string]any{"contains": q.Name}},
			map[string]any{"property": "Address", "rich_text": map[string]any{"contains": q.Name}},
		))
	}
	if q.Type != "" {
		clauses = append(clauses, map[string]any{
			"property": "Type",
			"select":   map[string]any{"equals": string(q.Type)},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Places, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	places := make([]kb.Place, 0, len(pages))
	for _, page := range pages {
		place, err := placeFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map place")
		}
		places = append(places, place)
	}
	return places, nil
}

func (g *Gateway) UpdatePlaceFields(ctx context.Context, id string, patch kb.PlacePatch) error {
	props := map[string]any{}
	if patch.Address != nil {
		props["Address"] = richTextProp(*patch.Address)
	}
	if patch.Geo != nil {
		props["Lat"] = numberProp(patch.Geo.Lat)
		props["Lng"] = numberProp(patch.Geo.Lng)
	}
	if patch.ExternalPlaceID != nil {
		props["Place ID"] = richTextProp(*patch.ExternalPlaceID)
	}
	if patch.Rating != nil {
		props["Rating"] = numberProp(float64(*patch.Rating))
	}
	if patch.LastVisit != nil {
		props["Last Visit"] = dateProp(patch.LastVisit, "")
	}
	if patch.Notes != nil {
		props["Notes"] = richTextProp(*patch.Notes)
	}
	if len(props) == 0 {
		return nil
	}
	return g.client.UpdatePage(ctx, id, props)
}

func (g *Gateway) CreateProject(ctx context.Context, project kb.Project) (kb.Project, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.Projects, projectProps(project))
	if err != nil {
		return kb.Project{}, err
	}
	project.ID = page.ID
	project.CreatedAt = page.CreatedTime
	return project, nil
}

func (g *Gateway) QueryProjects(ctx context.Context, q kb.ProjectQuery) ([]kb.Project, error) {
	var clauses []map[string]any
	if !q.IncludeDeleted {
		clauses = append(clauses, notDeletedFilter())
	}
	if q.Name != "" {
		clauses = append(clauses, map[string]any{
			"property": "Name",
			"title":    map[string]any{"contains": q.Name},
		})
	}
	if q.Status != "" {
		clauses = append(clauses, map[string]any{
			"property": "Status",
			"select":   map[string]any{"equals": string(q.Status)},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Projects, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	projects := make([]kb.Project, 0, len(pages))
	for _, page := range pages {
		project, err := projectFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map project")
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func (g *Gateway) CreateInboxItem(ctx context.Context, item kb.InboxItem) (kb.InboxItem, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.Inbox, inboxProps(item))
	if err != nil {
		return kb.InboxItem{}, err
	}
	item.ID = page.ID
	item.CreatedAt = page.CreatedTime
	return item, nil
}

func (g *Gateway) QueryInbox(ctx context.Context, q kb.InboxQuery) ([]kb.InboxItem, error) {
	clauses := []map[string]any{notDeletedFilter()}
	if q.NeedsClarification != nil {
		clauses = append(clauses, map[string]any{
			"property": "Needs Clarification",
			"checkbox": map[string]any{"equals": *q.NeedsClarification},
		})
	}
	if q.Processed != nil {
		clauses = append(clauses, map[string]any{
			"property": "Processed",
			"checkbox": map[string]any{"equals": *q.Processed},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Inbox, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]kb.InboxItem, 0, len(pages))
	for _, page := range pages {
		item, err := inboxFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map inbox item")
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *Gateway) MarkInboxProcessed(ctx context.Context, id string, linkedTaskID string) error {
	props := map[string]any{
		"Processed":           checkboxProp(true),
		"Needs Clarification": checkboxProp(false),
	}
	if linkedTaskID != "" {
		props["Linked Task"] = relationProp([]string{linkedTaskID})
	}
	return g.client.UpdatePage(ctx, id, props)
}

func (g *Gateway) CreatePattern(ctx context.Context, pattern kb.Pattern) (kb.Pattern, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.Patterns, patternProps(pattern))
	if err != nil {
		return kb.Pattern{}, err
	}
	pattern.ID = page.ID
	pattern.CreatedAt = page.CreatedTime
	return pattern, nil
}

func (g *Gateway) QueryPatterns(ctx context.Context, q kb.PatternQuery) ([]kb.Pattern, error) {
	var clauses []map[string]any
	if q.MinConfidence > 0 {
		clauses = append(clauses, map[string]any{
			"property": "Confidence",
			"number":   map[string]any{"greater_than_or_equal_to": q.MinConfidence},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Patterns, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	patterns := make([]kb.Pattern, 0, len(pages))
	for _, page := range pages {
		pattern, err := patternFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map pattern")
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func (g *Gateway) UpdatePatternFields(ctx context.Context, id string, patch kb.PatternPatch) error {
	props := map[string]any{}
	if patch.Confidence != nil {
		props["Confidence"] = numberProp(float64(*patch.Confidence))
	}
	if patch.TimesConfirmed != nil {
		props["Times Confirmed"] = numberProp(float64(*patch.TimesConfirmed))
	}
	if patch.LastUsed != nil {
		props["Last Used"] = dateProp(patch.LastUsed, "")
	}
	if len(props) == 0 {
		return nil
	}
	return g.client.UpdatePage(ctx, id, props)
}

func (g *Gateway) CreateLogEntry(ctx context.Context, entry kb.LogEntry) (kb.LogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = g.now()
	}
	page, err := g.client.CreatePage(ctx, g.dbs.Log, logProps(entry))
	if err != nil {
		return kb.LogEntry{}, err
	}
	entry.ID = page.ID
	return entry, nil
}

func (g *Gateway) CheckDedupe(ctx context.Context, key string) (string, bool, error) {
	filter := map[string]any{
		"property": "Idempotency Key",
		"title":    map[string]any{"equals": key},
	}
	pages, err := g.client.QueryDatabase(ctx, g.dbs.Log, filter, 1)
	if err != nil {
		return "", false, err
	}
	if len(pages) == 0 {
		return "", false, nil
	}
	return pages[0].ID, true, nil
}

func (g *Gateway) QueryLog(ctx context.Context, q kb.LogQuery) ([]kb.LogEntry, error) {
	var clauses []map[string]any
	if q.IdempotencyKey != "" {
		clauses = append(clauses, map[string]any{
			"property": "Idempotency Key",
			"title":    map[string]any{"equals": q.IdempotencyKey},
		})
	}
	if len(q.ActionTypes) > 0 {
		types := make([]map[string]any, 0, len(q.ActionTypes))
		for _, t := range q.ActionTypes {
			types = append(types, map[string]any{
				"property": "Action Type",
				"select":   map[string]any{"equals": string(t)},
			})
		}
		clauses = append(clauses, orFilter(types...))
	}
	if q.Since != nil {
		clauses = append(clauses, map[string]any{
			"property": "Timestamp",
			"date":     map[string]any{"on_or_after": q.Since.Format(time.RFC3339)},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Log, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	entries := make([]kb.LogEntry, 0, len(pages))
	for _, page := range pages {
		entry, err := logFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map log entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (g *Gateway) CreateEmail(ctx context.Context, email kb.Email) (kb.Email, error) {
	page, err := g.client.CreatePage(ctx, g.dbs.Emails, emailProps(email))
	if err != nil {
		return kb.Email{}, err
	}
	email.ID = page.ID
	email.CreatedAt = page.CreatedTime
	return email, nil
}

func (g *Gateway) QueryEmails(ctx context.Context, q kb.EmailQuery) ([]kb.Email, error) {
	clauses := []map[string]any{notDeletedFilter()}
	if q.Sender != "" {
		clauses = append(clauses, map[string]any{
			"property": "Sender",
			"title":    map[string]any{"contains": q.Sender},
		})
	}

	pages, err := g.client.QueryDatabase(ctx, g.dbs.Emails, andFilter(clauses...), q.Limit)
	if err != nil {
		return nil, err
	}
	emails := make([]kb.Email, 0, len(pages))
	for _, page := range pages {
		email, err := emailFromPage(page)
		if err != nil {
			return nil, errors.Wrap(err, "notion: map email")
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// Интерфейс шлюза закреплён на этапе компиляции.
var _ kb.Gateway = (*Gateway)(nil)
