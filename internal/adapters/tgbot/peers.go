package tgbot

// Книга пиров. Бот может писать только тем, кого уже «видел»: access hash
// пользователя приходит вместе с апдейтом и нигде больше не добывается.
// Каждое входящее сообщение пополняет книгу, отправитель резолвит по ней
// ChatID конверта в InputPeer. Книга сохраняется на диск, чтобы проактивные
// отправки (брифинг, напоминания) работали сразу после рестарта.

import (
	"strconv"
	"sync"

	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/storage"
	"second-brain/internal/shared/fault"

	"github.com/gotd/td/tg"
)

type peerKind int

const (
	peerUser peerKind = iota
	peerChat
	peerChannel
)

type peerEntry struct {
	Kind       peerKind `json:"kind"`
	AccessHash int64    `json:"access_hash"`
}

type peerBook struct {
	mu      sync.RWMutex
	path    string
	entries map[int64]peerEntry
}

// newPeerBook создаёт книгу пиров поверх файла path. Отсутствие файла —
// нормальный первый запуск.
func newPeerBook(path string) *peerBook {
	b := &peerBook{path: path, entries: make(map[int64]peerEntry)}
	if _, err := storage.LoadJSON(path, &b.entries); err != nil {
		logger.Warnf("tgbot: load peer book: %v", err)
		b.entries = make(map[int64]peerEntry)
	}
	return b
}

// absorb запоминает всех пользователей и чаты из сущностей апдейта.
// Изменившаяся книга сбрасывается на диск best-effort.
func (b *peerBook) absorb(e tg.Entities) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dirty := false
	put := func(id int64, entry peerEntry) {
		if cur, ok := b.entries[id]; !ok || cur != entry {
			b.entries[id] = entry
			dirty = true
		}
	}

	for id, u := range e.Users {
		put(id, peerEntry{Kind: peerUser, AccessHash: u.AccessHash})
	}
	for id := range e.Chats {
		put(id, peerEntry{Kind: peerChat})
	}
	for id, ch := range e.Channels {
		put(id, peerEntry{Kind: peerChannel, AccessHash: ch.AccessHash})
	}

	if dirty {
		if err := storage.SaveJSON(b.path, b.entries); err != nil {
			logger.Warnf("tgbot: save peer book: %v", err)
		}
	}
}

// inputPeer резолвит строковый идентификатор чата в InputPeer.
// Неизвестный пир — временная ошибка: hash появится с первым входящим
// сообщением из этого чата.
func (b *peerBook) inputPeer(chatID string) (tg.InputPeerClass, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fault.Newf(fault.KindValidation, "tgbot: bad chat id %q", chatID)
	}

	b.mu.RLock()
	entry, ok := b.entries[id]
	b.mu.RUnlock()
	if !ok {
		return nil, fault.Newf(fault.KindTransient, "tgbot: peer %d not seen yet", id)
	}

	switch entry.Kind {
	case peerChat:
		return &tg.InputPeerChat{ChatID: id}, nil
	case peerChannel:
		return &tg.InputPeerChannel{ChannelID: id, AccessHash: entry.AccessHash}, nil
	default:
		return &tg.InputPeerUser{UserID: id, AccessHash: entry.AccessHash}, nil
	}
}
