// Package tgbot — транспорт Telegram поверх MTProto (gotd).
// Клиент авторизуется как бот по токену, принимает входящие сообщения
// (текст и голосовые заметки) и отправляет ответы ассистента. Сессия и
// состояние апдейтов хранятся на диске, поэтому рестарты не теряют
// непрочитанные сообщения. FLOOD_WAIT и обрывы соединения обрабатываются
// middleware-слоями gotd и внутренним троттлером отправки.
package tgbot

import (
	"context"
	"path/filepath"

	"second-brain/internal/adapters/extsvc"
	"second-brain/internal/domain/envelope"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/storage"
	"second-brain/internal/shared/fault"
	"second-brain/internal/support/version"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

const (
	sessionFileName = "telegram.session"
	stateFileName   = "telegram-state.bolt"
	peersFileName   = "peers.json"
)

// Options — параметры подключения Telegram-транспорта.
type Options struct {
	APIID      int
	APIHash    string
	BotToken   string
	SessionDir string
	RPS        int // лимит исходящих MTProto-запросов в секунду

	// Handler получает каждое входящее сообщение в виде конверта.
	Handler envelope.Handler
	// Transcriber превращает голосовые заметки в текст. Допускается noop.
	Transcriber extsvc.Transcriber
}

// Client связывает MTProto-клиента gotd, менеджер апдейтов и книгу пиров.
// Создаётся через New, запускается через Run; Sender() отдаёт транспорт
// исходящих ответов, пригодный для регистрации в процессоре.
type Client struct {
	opts    Options
	client  *telegram.Client
	waiter  *floodwait.Waiter
	updMgr  *tgupdates.Manager
	conn    *connState
	peers   *peerBook
	stateDB *bbolt.DB
	sender  *Sender
}

// New собирает клиента: файловая сессия, bolt-хранилище состояния апдейтов,
// middleware floodwait+ratelimit и диспетчер входящих сообщений.
func New(opts Options) (*Client, error) {
	if opts.Handler == nil {
		return nil, fault.New(fault.KindConfig, "tgbot: nil envelope handler")
	}
	if err := storage.EnsureDir(filepath.Join(opts.SessionDir, sessionFileName)); err != nil {
		return nil, errors.Wrap(err, "ensure session dir")
	}

	stateDB, err := bbolt.Open(filepath.Join(opts.SessionDir, stateFileName), 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open updates state storage")
	}

	conn := newConnState()
	peers := newPeerBook(filepath.Join(opts.SessionDir, peersFileName))
	dispatcher := tg.NewUpdateDispatcher()
	waiter := floodwait.NewWaiter()

	c := &Client{
		opts:    opts,
		waiter:  waiter,
		conn:    conn,
		peers:   peers,
		stateDB: stateDB,
	}

	options := telegram.Options{
		SessionStorage: &fileSession{path: filepath.Join(opts.SessionDir, sessionFileName)},
		UpdateHandler:  dispatcher,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(opts.RPS), opts.RPS*2), //nolint:mnd // burst = 2*rate
		},
		OnDead: func() {
			conn.markDisconnected()
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "second-brain",
			SystemVersion: "server",
			AppVersion:    version.Version,
		},
	}

	c.client = telegram.NewClient(opts.APIID, opts.APIHash, options)
	c.updMgr = tgupdates.New(tgupdates.Config{
		Handler: dispatcher,
		Storage: boltstor.NewStateStorage(stateDB),
	})
	c.sender = newSender(c.client.API(), peers, conn, opts.RPS)

	dispatcher.OnNewMessage(c.onNewMessage)

	return c, nil
}

// Sender возвращает транспорт исходящих ответов. Валиден после New,
// но доставка возможна только при запущенном Run.
func (c *Client) Sender() *Sender { return c.sender }

// WaitOnline блокируется до успешной авторизации клиента. Используется
// одноразовыми командами (briefing, nudge), которым нужна живая сессия
// до первой отправки.
func (c *Client) WaitOnline(ctx context.Context) error {
	return c.conn.waitOnline(ctx)
}

// Run блокируется до отмены контекста: подключается к Telegram, авторизует
// бота по токену, запускает менеджер апдейтов и поток входящих сообщений.
// При обрыве соединения gotd переподключается сам; conn-состояние пробуждает
// ожидающих отправителей.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		if err := c.stateDB.Close(); err != nil {
			logger.Errorf("tgbot: close state storage: %v", err)
		}
	}()

	return c.waiter.Run(ctx, func(ctx context.Context) error {
		return c.client.Run(ctx, func(ctx context.Context) error {
			self, err := c.authorize(ctx)
			if err != nil {
				return err
			}
			c.conn.markConnected()

			logger.Logger().Info("telegram connected",
				zap.String("username", self.Username),
				zap.Int64("id", self.ID),
			)

			err = c.updMgr.Run(ctx, c.client.API(), self.ID, tgupdates.AuthOptions{IsBot: true})
			if err != nil && ctx.Err() == nil {
				return errors.Wrap(err, "updates manager")
			}
			return ctx.Err()
		})
	})
}

// authorize выполняет бот-авторизацию по токену, если сессия ещё не залогинена.
func (c *Client) authorize(ctx context.Context) (*tg.User, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		if _, err := c.client.Auth().Bot(ctx, c.opts.BotToken); err != nil {
			return nil, errors.Wrap(err, "bot login")
		}
	}

	self, err := c.client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self")
	}
	return self, nil
}
