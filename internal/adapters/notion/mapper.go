package notion

import (
	"encoding/json"
	"time"

	"second-brain/internal/domain/kb"
	"second-brain/internal/shared/fault"
)

// Низкоуровневые конструкторы дерева свойств. Каждый возвращает фрагмент
// в формате страничных свойств API.

func titleProp(s string) map[string]any {
	return map[string]any{"title": []map[string]any{{"text": map[string]any{"content": s}}}}
}

func richTextProp(s string) map[string]any {
	if s == "" {
		return map[string]any{"rich_text": []map[string]any{}}
	}
	return map[string]any{"rich_text": []map[string]any{{"text": map[string]any{"content": s}}}}
}

func selectProp(s string) map[string]any {
	if s == "" {
		return map[string]any{"select": nil}
	}
	return map[string]any{"select": map[string]any{"name": s}}
}

func multiSelectProp(values []string) map[string]any {
	opts := make([]map[string]any, 0, len(values))
	for _, v := range values {
		opts = append(opts, map[string]any{"name": v})
	}
	return map[string]any{"multi_select": opts}
}

// dateProp сериализует момент в RFC 3339; zone дополняет его IANA-именем.
// nil очищает свойство.
func dateProp(t *time.Time, zone string) map[string]any {
	if t == nil {
		return map[string]any{"date": nil}
	}
	d := map[string]any{"start": t.Format(time.RFC3339)}
	if zone != "" {
		d["time_zone"] = zone
	}
	return map[string]any{"date": d}
}

func numberProp(n float64) map[string]any {
	return map[string]any{"number": n}
}

func checkboxProp(b bool) map[string]any {
	return map[string]any{"checkbox": b}
}

func relationProp(ids []string) map[string]any {
	rels := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		rels = append(rels, map[string]any{"id": id})
	}
	return map[string]any{"relation": rels}
}

func urlProp(s string) map[string]any {
	if s == "" {
		return map[string]any{"url": nil}
	}
	return map[string]any{"url": s}
}

// Парсеры читают одно свойство из дерева страницы. Отсутствующее или пустое
// свойство даёт нулевое значение; структурный мусор — ошибку валидации.

type textSpan struct {
	PlainText string `json:"plain_text"`
	Text      struct {
		Content string `json:"content"`
	} `json:"text"`
}

func (s textSpan) value() string {
	if s.PlainText != "" {
		return s.PlainText
	}
	return s.Text.Content
}

func parseText(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	var prop struct {
		Title    []textSpan `json:"title"`
		RichText []textSpan `json:"rich_text"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return "", fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	spans := prop.Title
	if len(spans) == 0 {
		spans = prop.RichText
	}
	out := ""
	for _, s := range spans {
		out += s.value()
	}
	return out, nil
}

func parseSelect(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	var prop struct {
		Select *struct {
			Name string `json:"name"`
		} `json:"select"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return "", fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	if prop.Select == nil {
		return "", nil
	}
	return prop.Select.Name, nil
}

func parseMultiSelect(raw json.RawMessage, field string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var prop struct {
		MultiSelect []struct {
			Name string `json:"name"`
		} `json:"multi_select"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return nil, fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	out := make([]string, 0, len(prop.MultiSelect))
	for _, o := range prop.MultiSelect {
		out = append(out, o.Name)
	}
	return out, nil
}

func parseDate(raw json.RawMessage, field string) (*time.Time, string, error) {
	if raw == nil {
		return nil, "", nil
	}
	var prop struct {
		Date *struct {
			Start    string `json:"start"`
			TimeZone string `json:"time_zone"`
		} `json:"date"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return nil, "", fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	if prop.Date == nil || prop.Date.Start == "" {
		return nil, "", nil
	}
	t, err := time.Parse(time.RFC3339, prop.Date.Start)
	if err != nil {
		// Даты без времени приходят как yyyy-mm-dd.
		t, err = time.Parse("2006-01-02", prop.Date.Start)
		if err != nil {
			return nil, "", fault.Wrap(err, fault.KindValidation, "property "+field)
		}
	}
	return &t, prop.Date.TimeZone, nil
}

func parseNumber(raw json.RawMessage, field string) (float64, error) {
	if raw == nil {
		return 0, nil
	}
	var prop struct {
		Number *float64 `json:"number"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return 0, fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	if prop.Number == nil {
		return 0, nil
	}
	return *prop.Number, nil
}

func parseCheckbox(raw json.RawMessage, field string) (bool, error) {
	if raw == nil {
		return false, nil
	}
	var prop struct {
		Checkbox bool `json:"checkbox"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return false, fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	return prop.Checkbox, nil
}

func parseRelation(raw json.RawMessage, field string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var prop struct {
		Relation []struct {
			ID string `json:"id"`
		} `json:"relation"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return nil, fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	out := make([]string, 0, len(prop.Relation))
	for _, r := range prop.Relation {
		out = append(out, r.ID)
	}
	return out, nil
}

func parseURL(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	var prop struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return "", fault.Wrap(err, fault.KindValidation, "property "+field)
	}
	return prop.URL, nil
}

// pageReader снимает накладные расходы на обработку ошибок при чтении многих
// свойств: первая ошибка запоминается, остальные чтения продолжаются вхолостую.
type pageReader struct {
	page Page
	err  error
}

func (r *pageReader) text(field string) string {
	v, err := parseText(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) sel(field string) string {
	v, err := parseSelect(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) multi(field string) []string {
	v, err := parseMultiSelect(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) date(field string) (*time.Time, string) {
	v, zone, err := parseDate(r.page.Properties[field], field)
	r.keep(err)
	return v, zone
}

func (r *pageReader) number(field string) float64 {
	v, err := parseNumber(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) checkbox(field string) bool {
	v, err := parseCheckbox(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) relation(field string) []string {
	v, err := parseRelation(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) url(field string) string {
	v, err := parseURL(r.page.Properties[field], field)
	r.keep(err)
	return v
}

func (r *pageReader) keep(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

// Преобразования строк базы знаний в дерево свойств и обратно.

func taskProps(t kb.Task) map[string]any {
	props := map[string]any{
		"Name":       titleProp(t.Title),
		"Status":     selectProp(string(t.Status)),
		"Priority":   selectProp(string(t.Priority)),
		"Due":        dateProp(t.Due, t.TimezoneName),
		"Timezone":   richTextProp(t.TimezoneName),
		"Source":     selectProp(string(t.Source)),
		"Confidence": numberProp(float64(t.Confidence)),
		"Created By": selectProp(string(t.CreatedBy)),
		"People":     relationProp(t.PeopleIDs),
		"Places":     relationProp(t.PlaceIDs),
		"Project":    relationProp([]string{t.ProjectID}),
		"Doc ID":     richTextProp(t.ExternalDocID),
		"Doc URL":    urlProp(t.ExternalDocURL),
		"Notes":      richTextProp(t.Notes),
		"Deleted At": dateProp(t.DeletedAt, ""),
	}
	return props
}

func taskFromPage(p Page) (kb.Task, error) {
	r := &pageReader{page: p}
	due, zone := r.date("Due")
	deleted, _ := r.date("Deleted At")
	if zone == "" {
		zone = r.text("Timezone")
	}

	task := kb.Task{
		ID:             p.ID,
		Title:          r.text("Name"),
		Status:         kb.TaskStatus(r.sel("Status")),
		Priority:       kb.TaskPriority(r.sel("Priority")),
		Due:            due,
		TimezoneName:   zone,
		Source:         kb.Source(r.sel("Source")),
		Confidence:     int(r.number("Confidence")),
		CreatedBy:      kb.CreatedBy(r.sel("Created By")),
		PeopleIDs:      r.relation("People"),
		PlaceIDs:       r.relation("Places"),
		ExternalDocID:  r.text("Doc ID"),
		ExternalDocURL: r.url("Doc URL"),
		Notes:          r.text("Notes"),
		DeletedAt:      deleted,
		CreatedAt:      p.CreatedTime,
		LastModifiedAt: p.LastEditedTime,
	}
	if projects := r.relation("Project"); len(projects) > 0 {
		task.ProjectID = projects[0]
	}
	return task, r.err
}

func personProps(p kb.Person) map[string]any {
	return map[string]any{
		"Name":         titleProp(p.Name),
		"Aliases":      multiSelectProp(p.Aliases),
		"Relationship": selectProp(string(p.Relationship)),
		"Last Contact": dateProp(p.LastContact, ""),
		"Notes":        richTextProp(p.Notes),
		"Deleted At":   dateProp(p.DeletedAt, ""),
	}
}

func personFromPage(p Page) (kb.Person, error) {
	r := &pageReader{page: p}
	lastContact, _ := r.date("Last Contact")
	deleted, _ := r.date("Deleted At")

	return kb.Person{
		ID:           p.ID,
		Name:         r.text("Name"),
		Aliases:      r.multi("Aliases"),
		Relationship: kb.Relationship(r.sel("Relationship")),
		LastContact:  lastContact,
		Notes:        r.text("Notes"),
		DeletedAt:    deleted,
		CreatedAt:    p.CreatedTime,
	}, r.err
}

func placeProps(p kb.Place) map[string]any {
	props := map[string]any{
		"Name":       titleProp(p.Name),
		"Type":       selectProp(string(p.Type)),
		"Address":    richTextProp(p.Address),
		"Place ID":   richTextProp(p.ExternalPlaceID),
		"Last Visit": dateProp(p.LastVisit, ""),
		"Rating":     numberProp(float64(p.Rating)),
		"Notes":      richTextProp(p.Notes),
		"Deleted At": dateProp(p.DeletedAt, ""),
	}
	if p.Geo != nil {
		props["Lat"] = numberProp(p.Geo.Lat)
		props["Lng"] = numberProp(p.Geo.Lng)
	}
	return props
}

func placeFromPage(p Page) (kb.Place, error) {
	r := &pageReader{page: p}
	lastVisit, _ := r.date("Last Visit")
	deleted, _ := r.date("Deleted At")

	place := kb.Place{
		ID:              p.ID,
		Name:            r.text("Name"),
		Type:            kb.PlaceType(r.sel("Type")),
		Address:         r.text("Address"),
		ExternalPlaceID: r.text("Place ID"),
		LastVisit:       lastVisit,
		Rating:          int(r.number("Rating")),
		Notes:           r.text("Notes"),
		DeletedAt:       deleted,
		CreatedAt:       p.CreatedTime,
	}
	lat, lng := r.number("Lat"), r.number("Lng")
	if lat != 0 || lng != 0 {
		place.Geo = &kb.GeoPoint{Lat: lat, Lng: lng}
	}
	return place, r.err
}

func projectProps(p kb.Project) map[string]any {
	return map[string]any{
		"Name":        titleProp(p.Name),
		"Type":        selectProp(string(p.Type)),
		"Status":      selectProp(string(p.Status)),
		"Deadline":    dateProp(p.Deadline, ""),
		"Next Action": richTextProp(p.NextAction),
		"Notes":       richTextProp(p.Notes),
		"Deleted At":  dateProp(p.DeletedAt, ""),
	}
}

func projectFromPage(p Page) (kb.Project, error) {
	r := &pageReader{page: p}
	deadline, _ := r.date("Deadline")
	deleted, _ := r.date("Deleted At")

	return kb.Project{
		ID:         p.ID,
		Name:       r.text("Name"),
		Type:       kb.ProjectType(r.sel("Type")),
		Status:     kb.ProjectStatus(r.sel("Status")),
		Deadline:   deadline,
		NextAction: r.text("Next Action"),
		Notes:      r.text("Notes"),
		DeletedAt:  deleted,
		CreatedAt:  p.CreatedTime,
	}, r.err
}

func inboxProps(i kb.InboxItem) map[string]any {
	return map[string]any{
		"Raw Input":           titleProp(i.RawInput),
		"Source":              selectProp(string(i.Source)),
		"Chat ID":             richTextProp(i.ChatID),
		"Message ID":          richTextProp(i.MessageID),
		"Confidence":          numberProp(float64(i.Confidence)),
		"Needs Clarification": checkboxProp(i.NeedsClarification),
		"Interpretation":      richTextProp(i.Interpretation),
		"Processed":           checkboxProp(i.Processed),
		"Linked Task":         relationProp([]string{i.LinkedTaskID}),
		"Deleted At":          dateProp(i.DeletedAt, ""),
	}
}

func inboxFromPage(p Page) (kb.InboxItem, error) {
	r := &pageReader{page: p}
	deleted, _ := r.date("Deleted At")

	item := kb.InboxItem{
		ID:                 p.ID,
		RawInput:           r.text("Raw Input"),
		Source:             kb.Source(r.sel("Source")),
		ChatID:             r.text("Chat ID"),
		MessageID:          r.text("Message ID"),
		Confidence:         int(r.number("Confidence")),
		NeedsClarification: r.checkbox("Needs Clarification"),
		Interpretation:     r.text("Interpretation"),
		Processed:          r.checkbox("Processed"),
		DeletedAt:          deleted,
		CreatedAt:          p.CreatedTime,
	}
	if tasks := r.relation("Linked Task"); len(tasks) > 0 {
		item.LinkedTaskID = tasks[0]
	}
	return item, r.err
}

func patternProps(pat kb.Pattern) map[string]any {
	return map[string]any{
		"Trigger":         titleProp(pat.Trigger),
		"Meaning":         richTextProp(pat.Meaning),
		"Confidence":      numberProp(float64(pat.Confidence)),
		"Times Confirmed": numberProp(float64(pat.TimesConfirmed)),
		"Type":            selectProp(string(pat.Type)),
		"Last Used":       dateProp(pat.LastUsed, ""),
	}
}

func patternFromPage(p Page) (kb.Pattern, error) {
	r := &pageReader{page: p}
	lastUsed, _ := r.date("Last Used")

	return kb.Pattern{
		ID:             p.ID,
		Trigger:        r.text("Trigger"),
		Meaning:        r.text("Meaning"),
		Confidence:     int(r.number("Confidence")),
		TimesConfirmed: int(r.number("Times Confirmed")),
		Type:           kb.PatternType(r.sel("Type")),
		LastUsed:       lastUsed,
		CreatedAt:      p.CreatedTime,
	}, r.err
}

func logProps(e kb.LogEntry) map[string]any {
	ts := e.Timestamp
	return map[string]any{
		"Idempotency Key":   titleProp(e.IdempotencyKey),
		"Action Type":       selectProp(string(e.ActionType)),
		"Input Text":        richTextProp(e.InputText),
		"Interpretation":    richTextProp(e.Interpretation),
		"Action Taken":      richTextProp(e.ActionTaken),
		"Confidence":        numberProp(float64(e.Confidence)),
		"Entities Affected": multiSelectProp(e.EntitiesAffected),
		"External API":      richTextProp(e.ExternalAPI),
		"External Resource": richTextProp(e.ExternalResourceID),
		"Error Code":        richTextProp(e.ErrorCode),
		"Error Message":     richTextProp(e.ErrorMessage),
		"Retry Count":       numberProp(float64(e.RetryCount)),
		"Correction":        richTextProp(e.Correction),
		"Corrected At":      dateProp(e.CorrectedAt, ""),
		"Undo Until":        dateProp(e.UndoAvailableUntil, ""),
		"Timestamp":         dateProp(&ts, ""),
	}
}

func logFromPage(p Page) (kb.LogEntry, error) {
	r := &pageReader{page: p}
	correctedAt, _ := r.date("Corrected At")
	undoUntil, _ := r.date("Undo Until")
	ts, _ := r.date("Timestamp")

	entry := kb.LogEntry{
		ID:                 p.ID,
		ActionType:         kb.ActionType(r.sel("Action Type")),
		IdempotencyKey:     r.text("Idempotency Key"),
		InputText:          r.text("Input Text"),
		Interpretation:     r.text("Interpretation"),
		ActionTaken:        r.text("Action Taken"),
		Confidence:         int(r.number("Confidence")),
		EntitiesAffected:   r.multi("Entities Affected"),
		ExternalAPI:        r.text("External API"),
		ExternalResourceID: r.text("External Resource"),
		ErrorCode:          r.text("Error Code"),
		ErrorMessage:       r.text("Error Message"),
		RetryCount:         int(r.number("Retry Count")),
		Correction:         r.text("Correction"),
		CorrectedAt:        correctedAt,
		UndoAvailableUntil: undoUntil,
	}
	if ts != nil {
		entry.Timestamp = *ts
	} else {
		entry.Timestamp = p.CreatedTime
	}
	return entry, r.err
}

func emailProps(e kb.Email) map[string]any {
	received := e.ReceivedAt
	return map[string]any{
		"Sender":      titleProp(e.Sender),
		"Subject":     richTextProp(e.Subject),
		"Summary":     richTextProp(e.Summary),
		"Needs Reply": checkboxProp(e.NeedsReply),
		"Received At": dateProp(&received, ""),
		"Deleted At":  dateProp(e.DeletedAt, ""),
	}
}

func emailFromPage(p Page) (kb.Email, error) {
	r := &pageReader{page: p}
	received, _ := r.date("Received At")
	deleted, _ := r.date("Deleted At")

	email := kb.Email{
		ID:         p.ID,
		Sender:     r.text("Sender"),
		Subject:    r.text("Subject"),
		Summary:    r.text("Summary"),
		NeedsReply: r.checkbox("Needs Reply"),
		DeletedAt:  deleted,
		CreatedAt:  p.CreatedTime,
	}
	if received != nil {
		email.ReceivedAt = *received
	}
	return email, r.err
}
