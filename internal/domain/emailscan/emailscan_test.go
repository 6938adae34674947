package emailscan_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"second-brain/internal/adapters/extsvc"
	"second-brain/internal/domain/emailscan"
)

var baseNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

// stubMailbox отдаёт заготовленные письма и запоминает границу выборки.
type stubMailbox struct {
	messages  []extsvc.Message
	lastSince time.Time
}

func (m *stubMailbox) SentSince(_ context.Context, since time.Time, _ int) ([]extsvc.Message, error) {
	m.lastSince = since
	return m.messages, nil
}

func email(id, to, body string) extsvc.Message {
	return extsvc.Message{ID: id, From: "me@example.com", To: to, Body: body, SentAt: baseNow}
}

func TestScanBuildsProfile(t *testing.T) {
	t.Parallel()

	mailbox := &stubMailbox{messages: []extsvc.Message{
		email("m1", "boss@corp.com", "Dear Ms. Park,\n\nThe report is attached.\n\nBest regards,\nAlex"),
		email("m2", "boss@corp.com", "Dear Ms. Park,\n\nFollowing up.\n\nBest regards,\nAlex"),
	}}
	scanner := emailscan.NewScanner(mailbox, t.TempDir()+"/processed.json", func() time.Time { return baseNow })

	fresh, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if fresh != 2 {
		t.Fatalf("fresh = %d", fresh)
	}

	p, ok := scanner.Pattern("Boss@Corp.com")
	if !ok {
		t.Fatal("профиль не найден")
	}
	if p.ReplyCount != 2 || p.Tone != emailscan.ToneFormal {
		t.Fatalf("pattern = %+v", p)
	}
	if p.TypicalGreeting != "Dear Ms. Park," || p.TypicalSignoff != "Alex" {
		t.Fatalf("pattern = %+v", p)
	}

	// Первый проход смотрит на месяц назад.
	if want := baseNow.Add(-30 * 24 * time.Hour); !mailbox.lastSince.Equal(want) {
		t.Fatalf("since = %v", mailbox.lastSince)
	}
}

func TestScanSkipsProcessed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mailbox := &stubMailbox{messages: []extsvc.Message{
		email("m1", "boss@corp.com", "Dear Ms. Park,\n\nHello.\n\nBest regards"),
	}}

	scanner := emailscan.NewScanner(mailbox, dir+"/processed.json", func() time.Time { return baseNow })
	if fresh, err := scanner.Scan(context.Background()); err != nil || fresh != 1 {
		t.Fatalf("Scan #1 = (%d, %v)", fresh, err)
	}
	if fresh, err := scanner.Scan(context.Background()); err != nil || fresh != 0 {
		t.Fatalf("Scan #2 = (%d, %v)", fresh, err)
	}

	// Список обработанных переживает перезапуск.
	reborn := emailscan.NewScanner(mailbox, dir+"/processed.json", func() time.Time { return baseNow })
	if fresh, err := reborn.Scan(context.Background()); err != nil || fresh != 0 {
		t.Fatalf("Scan после перезапуска = (%d, %v)", fresh, err)
	}
}

func TestPatternExpires(t *testing.T) {
	t.Parallel()

	var offset time.Duration
	now := func() time.Time { return baseNow.Add(offset) }
	mailbox := &stubMailbox{messages: []extsvc.Message{
		email("m1", "boss@corp.com", "Dear Ms. Park,\n\nHello."),
	}}
	scanner := emailscan.NewScanner(mailbox, t.TempDir()+"/processed.json", now)

	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, ok := scanner.Pattern("boss@corp.com"); !ok {
		t.Fatal("свежий профиль не найден")
	}

	offset = 25 * time.Hour
	if _, ok := scanner.Pattern("boss@corp.com"); ok {
		t.Fatal("устаревший профиль не отброшен")
	}
}

func TestSuggestReply(t *testing.T) {
	t.Parallel()

	mailbox := &stubMailbox{messages: []extsvc.Message{
		email("m1", "jess@gmail.com", "hey!\n\nsee you tomorrow :)\n\ncheers,\njess"),
		email("m2", "jess@gmail.com", "hey!\n\nthanks! btw the tickets are booked\n\ncheers"),
	}}
	scanner := emailscan.NewScanner(mailbox, t.TempDir()+"/processed.json", func() time.Time { return baseNow })
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	hint := scanner.SuggestReply("jess@gmail.com")
	if !strings.Contains(hint, "casual tone") {
		t.Fatalf("hint = %q", hint)
	}
	if !strings.Contains(hint, `opening with "hey!"`) {
		t.Fatalf("hint = %q", hint)
	}

	if hint := scanner.SuggestReply("stranger@void.net"); hint != "" {
		t.Fatalf("hint = %q", hint)
	}
}

func TestClassifyToneViaProfiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want emailscan.Tone
	}{
		{"formal", "Dear Sir,\n\nPlease find attached.\n\nSincerely", emailscan.ToneFormal},
		{"casual", "hey, lol that was great :)", emailscan.ToneCasual},
		{"neutral", "The meeting is moved to Friday.", emailscan.ToneNeutral},
		// Формальные маркеры перевешивают при равенстве.
		{"mixedLeansFormal", "Dear Tom, thanks!\n\nKind regards", emailscan.ToneFormal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mailbox := &stubMailbox{messages: []extsvc.Message{email("m1", "x@y.z", tc.body)}}
			scanner := emailscan.NewScanner(mailbox, t.TempDir()+"/processed.json", func() time.Time { return baseNow })
			if _, err := scanner.Scan(context.Background()); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			p, ok := scanner.Pattern("x@y.z")
			if !ok {
				t.Fatal("профиль не найден")
			}
			if p.Tone != tc.want {
				t.Fatalf("Tone = %s, want %s", p.Tone, tc.want)
			}
		})
	}
}
