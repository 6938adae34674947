package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/recent"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared"
)

// Детекторы исследовательского запроса. Захват — тема исследования.
var researchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^research (.+)$`),
	regexp.MustCompile(`(?i)^find out about (.+)$`),
	regexp.MustCompile(`(?i)^compare (.+)$`),
	regexp.MustCompile(`(?i)^what are the best (.+?)\??$`),
}

// researchQuery распознаёт запрос исследования и возвращает тему.
func researchQuery(text string) (string, bool) {
	for _, re := range researchPatterns {
		if m := re.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// handleResearch прогоняет конвейер: исследование → внешний документ с
// выводами и источниками → задача со ссылкой на документ → сводный ответ.
func (p *Processor) handleResearch(ctx context.Context, env envelope.Envelope, topic string) (string, error) {
	finding, err := p.deps.Researcher.Research(ctx, topic)
	if err != nil {
		return "", errors.Wrap(err, "research: run")
	}

	var docURL, docID string
	if p.deps.Docs != nil {
		body := finding.Summary
		if len(finding.Sources) > 0 {
			body += "\n\nSources:\n- " + strings.Join(finding.Sources, "\n- ")
		}
		doc, err := p.deps.Docs.CreateDocument(ctx, "Research: "+topic, body)
		if err != nil {
			logger.Warnf("research: create doc for %q: %v", topic, err)
		} else {
			docURL, docID = doc.URL, doc.ID
		}
	}

	task := kb.Task{
		Title:          "Review research: " + topic,
		Status:         kb.TaskTodo,
		Priority:       kb.PriorityMedium,
		Source:         env.Source(),
		CreatedBy:      kb.CreatedByAI,
		ExternalDocID:  docID,
		ExternalDocURL: docURL,
	}
	if docURL != "" {
		task.Notes = "Findings: " + docURL
	}

	created, err := p.deps.Gateway.CreateTask(ctx, task)
	if err != nil {
		return p.maybeOffline(env, task.Title, err)
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

	key := env.IdempotencyKey()
	if err := p.deps.Audit.LogResearch(ctx, key, created.ID, env.Text,
		"research task created: "+created.Title, docID); err != nil {
		logger.Warnf("research: audit %s: %v", key, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Researched %q.\n%s", topic, shortSummary(finding.Summary))
	if docURL != "" {
		b.WriteString("\nFull notes: " + docURL)
	}
	fmt.Fprintf(&b, "\nFollow-up task: %s", created.Title)
	return b.String(), nil
}

// shortSummary обрезает сводку до пары предложений для чата.
func shortSummary(s string) string {
	return shared.Truncate(strings.TrimSpace(s), 400)
}
