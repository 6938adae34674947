package tgbot

// Приём входящих сообщений: tg.UpdateNewMessage → envelope.Envelope.
// Обработка уходит в отдельную горутину, чтобы не тормозить поток апдейтов
// gotd, но сообщения одного чата сериализуются KeyedMutex — порядок реплик
// и сессий дебрифа внутри чата сохраняется.

import (
	"context"
	"strconv"
	"strings"
	"time"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/infra/concurrency"
	"second-brain/internal/infra/logger"

	"github.com/gotd/td/tg"
)

var chatOrder = concurrency.NewKeyedMutex()

func (c *Client) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	c.peers.absorb(e)

	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}

	chatID, ok := peerID(msg.PeerID)
	if !ok {
		logger.Debugf("tgbot: skip message %d with unsupported peer", msg.ID)
		return nil
	}

	env := envelope.Envelope{
		Transport:  envelope.TransportTelegram,
		ChatID:     strconv.FormatInt(chatID, 10),
		MessageID:  strconv.Itoa(msg.ID),
		Sender:     senderName(e, msg, chatID),
		Text:       msg.Message,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}

	if doc, ok := voiceDocument(msg); ok {
		env.Voice = true
		text, err := c.transcribeVoice(ctx, doc)
		if err != nil {
			logger.Errorf("tgbot: transcribe voice %s:%s: %v", env.ChatID, env.MessageID, err)
			return nil
		}
		env.Text = text
	}

	if strings.TrimSpace(env.Text) == "" {
		return nil
	}

	// Контекст апдейта живёт только до возврата из обработчика gotd.
	handleCtx := context.WithoutCancel(ctx)
	go chatOrder.Do(env.ChatID, func() {
		c.opts.Handler.Handle(handleCtx, env)
	})

	return nil
}

// peerID извлекает числовой идентификатор чата. Покрываем личку, группу и
// канал; остальные типы пиров боту не приходят.
func peerID(peer tg.PeerClass) (int64, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID, true
	case *tg.PeerChat:
		return p.ChatID, true
	case *tg.PeerChannel:
		return p.ChannelID, true
	default:
		return 0, false
	}
}

// senderName подбирает человекочитаемое имя отправителя из сущностей апдейта.
func senderName(e tg.Entities, msg *tg.Message, chatID int64) string {
	fromID := chatID
	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		fromID = from.UserID
	}

	u, ok := e.Users[fromID]
	if !ok {
		return strconv.FormatInt(fromID, 10)
	}
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return strconv.FormatInt(fromID, 10)
	}
	return name
}
