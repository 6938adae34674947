package tgbot

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"second-brain/internal/shared/fault"
)

func TestRandomIDForReply(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

	id := randomIDForReply("42", "Got it.", at)
	if id == 0 {
		t.Fatal("random_id = 0")
	}

	// Ретраи в пределах секунды дают тот же идентификатор.
	if got := randomIDForReply("42", "Got it.", at.Add(500*time.Millisecond)); got != id {
		t.Fatalf("random_id дрогнул: %d != %d", got, id)
	}

	// Другой текст, чат или момент — другой идентификатор.
	if got := randomIDForReply("42", "Noted.", at); got == id {
		t.Fatal("random_id совпал для другого текста")
	}
	if got := randomIDForReply("43", "Got it.", at); got == id {
		t.Fatal("random_id совпал для другого чата")
	}
	if got := randomIDForReply("42", "Got it.", at.Add(2*time.Second)); got == id {
		t.Fatal("random_id совпал для другого момента")
	}
}

func TestPeerBookResolves(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/peers.json"
	book := newPeerBook(path)
	book.absorb(tg.Entities{
		Users:    map[int64]*tg.User{100: {ID: 100, AccessHash: 777}},
		Chats:    map[int64]*tg.Chat{200: {ID: 200}},
		Channels: map[int64]*tg.Channel{300: {ID: 300, AccessHash: 888}},
	})

	peer, err := book.inputPeer("100")
	if err != nil {
		t.Fatalf("inputPeer(user): %v", err)
	}
	user, ok := peer.(*tg.InputPeerUser)
	if !ok || user.UserID != 100 || user.AccessHash != 777 {
		t.Fatalf("peer = %#v", peer)
	}

	peer, err = book.inputPeer("200")
	if err != nil {
		t.Fatalf("inputPeer(chat): %v", err)
	}
	if chat, ok := peer.(*tg.InputPeerChat); !ok || chat.ChatID != 200 {
		t.Fatalf("peer = %#v", peer)
	}

	peer, err = book.inputPeer("300")
	if err != nil {
		t.Fatalf("inputPeer(channel): %v", err)
	}
	if ch, ok := peer.(*tg.InputPeerChannel); !ok || ch.AccessHash != 888 {
		t.Fatalf("peer = %#v", peer)
	}
}

func TestPeerBookUnknownAndInvalid(t *testing.T) {
	t.Parallel()

	book := newPeerBook(t.TempDir() + "/peers.json")

	// Неизвестный пир — временная ошибка: hash придёт с первым сообщением.
	if _, err := book.inputPeer("999"); !fault.IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
	if _, err := book.inputPeer("not-a-number"); !fault.IsValidation(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestPeerBookSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/peers.json"
	book := newPeerBook(path)
	book.absorb(tg.Entities{
		Users: map[int64]*tg.User{100: {ID: 100, AccessHash: 777}},
	})

	reborn := newPeerBook(path)
	peer, err := reborn.inputPeer("100")
	if err != nil {
		t.Fatalf("inputPeer: %v", err)
	}
	if user, ok := peer.(*tg.InputPeerUser); !ok || user.AccessHash != 777 {
		t.Fatalf("peer = %#v", peer)
	}
}

func TestVoiceDocument(t *testing.T) {
	t.Parallel()

	voiceMsg := &tg.Message{Media: &tg.MessageMediaDocument{
		Document: &tg.Document{
			ID: 5,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Voice: true},
			},
		},
	}}
	doc, ok := voiceDocument(voiceMsg)
	if !ok || doc.ID != 5 {
		t.Fatalf("voiceDocument = (%v, %v)", doc, ok)
	}

	// Музыкальный файл — аудио без флага Voice.
	musicMsg := &tg.Message{Media: &tg.MessageMediaDocument{
		Document: &tg.Document{
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Voice: false},
			},
		},
	}}
	if _, ok := voiceDocument(musicMsg); ok {
		t.Fatal("музыка распознана как голосовая заметка")
	}

	if _, ok := voiceDocument(&tg.Message{}); ok {
		t.Fatal("сообщение без медиа распознано как голосовая заметка")
	}
}
