package tgbot

// Отправка ответов ассистента. Telegram дедуплицирует сообщения по random_id
// в пределах peer, поэтому random_id детерминированный: ретраи троттлера не
// плодят дубликатов. FLOOD_WAIT конвертируется в паузу wait-extractor'ом,
// сетевые обрывы — в ожидание восстановления соединения.

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	rand "math/rand/v2"
	"time"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/infra/throttle"
	"second-brain/internal/shared/fault"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const (
	senderMaxRetries = 3
	// randomIDMask ограничивает значение до int63: random_id ∈ [1, 2^63-1].
	randomIDMask = (1 << 63) - 1 //nolint:mnd // требование Telegram
	// floodWaitJitterMax — добавка к обязательной паузе FLOOD_WAIT, чтобы
	// повторы разных воркеров не входили в лимит одновременно.
	floodWaitJitterMax = 3 * time.Second
)

// Sender доставляет текст в чат Telegram. Реализует envelope.Sender.
type Sender struct {
	api       *tg.Client
	peers     *peerBook
	conn      *connState
	throttler *throttle.Throttler
}

var _ envelope.Sender = (*Sender)(nil)

func newSender(api *tg.Client, peers *peerBook, conn *connState, rps int) *Sender {
	return &Sender{
		api:   api,
		peers: peers,
		conn:  conn,
		throttler: throttle.New(rps,
			throttle.WithMaxRetries(senderMaxRetries),
			throttle.WithWaitExtractors(floodWaitExtractor()),
		),
	}
}

// Send отправляет текст в чат. random_id вычисляется один раз на вызов,
// поэтому ретраи троттлера Telegram склеивает в одно сообщение.
func (s *Sender) Send(ctx context.Context, chatID, text string) error {
	peer, err := s.peers.inputPeer(chatID)
	if err != nil {
		return err
	}

	randomID := randomIDForReply(chatID, text, time.Now())

	return s.throttler.Do(ctx, func() error {
		if err := s.conn.waitOnline(ctx); err != nil {
			return err
		}

		_, err := s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  text,
			RandomID: randomID,
		})
		if err == nil {
			return nil
		}
		if s.conn.handleError(err) {
			return fault.Wrap(err, fault.KindTransient, "send message: connection down")
		}
		if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code >= 400 && rpcErr.Code < 500 && rpcErr.Type != "FLOOD_WAIT" {
			return fault.Wrap(err, fault.KindPermanent, "send message rejected")
		}
		return fault.Wrap(err, fault.KindTransient, "send message")
	})
}

// floodWaitExtractor распознаёт FLOOD_WAIT и возвращает обязательную паузу
// с небольшим случайным джиттером.
func floodWaitExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			return 0, false
		}
		jitter := time.Duration(rand.IntN(int(floodWaitJitterMax / time.Second))) * time.Second // #nosec G404
		return wait + jitter, true
	}
}

// randomIDForReply смешивает чат, текст и момент отправки в детерминированный
// random_id. Момент огрубляется до секунды: ретраи одного вызова попадают в
// то же значение, а одинаковый текст в разное время — в разные.
func randomIDForReply(chatID, text string, at time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(chatID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(at.Unix())) // #nosec G115
	_, _ = h.Write(ts[:])

	id := int64(h.Sum64() & randomIDMask) // #nosec G115
	if id == 0 {
		id = 1
	}
	return id
}

// Ping проверяет доступность API — используется self-check'ом при старте.
func (s *Sender) Ping(ctx context.Context) error {
	if _, err := s.api.HelpGetNearestDC(ctx); err != nil {
		return errors.Wrap(err, "telegram ping")
	}
	return nil
}
