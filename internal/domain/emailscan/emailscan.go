// Package emailscan — фоновый анализ отправленной почты. По исходящим
// письмам строится профиль переписки с каждым адресатом (приветствие,
// подпись, тон), который затем подсказывает стиль ответа. Обработанные
// письма отмечаются в processed.json, профили живут в памяти с кэшем
// на сутки.
package emailscan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/adapters/extsvc"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/storage"
)

const (
	// patternTTL — срок жизни профиля в кэше; после него профиль
	// пересчитывается заново при следующем скане.
	patternTTL = 24 * time.Hour

	// scanBatch — сколько писем поднимается за один проход.
	scanBatch = 50

	// historyWindow — насколько назад смотрит первый скан.
	historyWindow = 30 * 24 * time.Hour
)

// Tone — тон переписки с адресатом.
type Tone string

const (
	ToneFormal  Tone = "formal"
	ToneCasual  Tone = "casual"
	ToneNeutral Tone = "neutral"
)

// SenderPattern — профиль переписки с одним адресатом.
type SenderPattern struct {
	SenderEmail     string
	ReplyCount      int
	TypicalGreeting string
	TypicalSignoff  string
	Tone            Tone
	Confidence      int // 0–100, растёт с числом писем

	cachedAt time.Time
}

// Scanner сканирует отправленную почту и накапливает профили адресатов.
type Scanner struct {
	mailbox       extsvc.Mailbox
	processedFile string
	now           func() time.Time

	mu        sync.Mutex
	processed map[string]string // email id → iso timestamp обработки
	patterns  map[string]*SenderPattern
	lastScan  time.Time
}

// NewScanner создаёт сканер и поднимает список обработанных писем с диска.
func NewScanner(mailbox extsvc.Mailbox, processedFile string, nowFn func() time.Time) *Scanner {
	if nowFn == nil {
		nowFn = time.Now
	}
	s := &Scanner{
		mailbox:       mailbox,
		processedFile: processedFile,
		now:           nowFn,
		processed:     make(map[string]string),
		patterns:      make(map[string]*SenderPattern),
	}
	if found, err := storage.LoadJSON(processedFile, &s.processed); err != nil {
		logger.Warnf("emailscan: load %s: %v", processedFile, err)
	} else if found {
		logger.Debugf("emailscan: %d processed emails loaded", len(s.processed))
	}
	if s.processed == nil {
		s.processed = make(map[string]string)
	}
	return s
}

// Scan делает один проход: поднимает свежие отправленные письма, обновляет
// профили и отмечает письма обработанными. Возвращает число новых писем.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	since := s.lastScan
	s.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-historyWindow)
	}

	messages, err := s.mailbox.SentSince(ctx, since, scanBatch)
	if err != nil {
		return 0, errors.Wrap(err, "emailscan: fetch sent mail")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := 0
	for _, msg := range messages {
		if _, done := s.processed[msg.ID]; done {
			continue
		}
		s.absorb(msg, now)
		s.processed[msg.ID] = now.Format(time.RFC3339)
		fresh++
	}
	s.lastScan = now

	if fresh > 0 {
		if err := storage.SaveJSON(s.processedFile, s.processed); err != nil {
			logger.Warnf("emailscan: save %s: %v", s.processedFile, err)
		}
		logger.Infof("emailscan: absorbed %d new emails", fresh)
	}
	return fresh, nil
}

// Pattern возвращает профиль адресата, если он есть и не устарел.
func (s *Scanner) Pattern(email string) (SenderPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[strings.ToLower(email)]
	if !ok || s.now().Sub(p.cachedAt) > patternTTL {
		return SenderPattern{}, false
	}
	return *p, true
}

// SuggestReply возвращает подсказку стиля ответа для адресата: типичное
// приветствие, подпись и тон. Пустая строка — профиля нет.
func (s *Scanner) SuggestReply(email string) string {
	p, ok := s.Pattern(email)
	if !ok || p.Confidence < 30 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You usually write to " + p.SenderEmail + " in a " + string(p.Tone) + " tone")
	if p.TypicalGreeting != "" {
		b.WriteString(`, opening with "` + p.TypicalGreeting + `"`)
	}
	if p.TypicalSignoff != "" {
		b.WriteString(` and signing off "` + p.TypicalSignoff + `"`)
	}
	b.WriteString(".")
	return b.String()
}

// Loop запускает периодические проходы до отмены контекста.
func (s *Scanner) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				logger.Warnf("emailscan: pass failed: %v", err)
			}
		}
	}
}

// absorb вливает письмо в профиль адресата. Вызывается под mu.
func (s *Scanner) absorb(msg extsvc.Message, now time.Time) {
	key := strings.ToLower(msg.To)
	if key == "" {
		return
	}

	p, ok := s.patterns[key]
	if !ok {
		p = &SenderPattern{SenderEmail: msg.To, Tone: ToneNeutral}
		s.patterns[key] = p
	}

	p.ReplyCount++
	if g := firstLine(msg.Body); g != "" {
		p.TypicalGreeting = g
	}
	if so := lastLine(msg.Body); so != "" {
		p.TypicalSignoff = so
	}
	p.Tone = classifyTone(msg.Body)
	p.Confidence = min(100, 20+p.ReplyCount*10)
	p.cachedAt = now
}

// Маркеры тона. Формальные перевешивают при равенстве.
var (
	formalMarkers = []string{"dear ", "sincerely", "best regards", "kind regards", "respectfully"}
	casualMarkers = []string{"hey", "hi!", "thanks!", "cheers", "lol", ":)", "btw"}
)

func classifyTone(body string) Tone {
	lower := strings.ToLower(body)
	formal, casual := 0, 0
	for _, m := range formalMarkers {
		if strings.Contains(lower, m) {
			formal++
		}
	}
	for _, m := range casualMarkers {
		if strings.Contains(lower, m) {
			casual++
		}
	}
	switch {
	case formal > 0 && formal >= casual:
		return ToneFormal
	case casual > 0:
		return ToneCasual
	default:
		return ToneNeutral
	}
}

func firstLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func lastLine(body string) string {
	lines := strings.Split(body, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
