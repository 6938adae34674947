package tgbot

// Состояние MTProto-соединения для отправителей. gotd переподключается сам,
// но между обрывом и восстановлением отправка гарантированно провалится —
// дешевле подождать online, чем жечь ретраи. Ожидание построено на
// поколенческом канале: каждый разрыв создаёт новый канал, markConnected
// закрывает текущий и будит всех ожидающих разом.

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"second-brain/internal/infra/logger"

	"github.com/gotd/td/rpc"
	"github.com/gotd/td/pool"
)

type connState struct {
	mu     sync.Mutex
	online bool
	waitCh chan struct{}
}

func newConnState() *connState {
	return &connState{waitCh: make(chan struct{})}
}

func (c *connState) markConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online {
		return
	}
	c.online = true
	close(c.waitCh)
	logger.Debug("tgbot: connection is online")
}

func (c *connState) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return
	}
	c.online = false
	c.waitCh = make(chan struct{})
	logger.Warn("tgbot: connection lost, senders will wait for recovery")
}

// waitOnline блокируется до восстановления соединения или отмены контекста.
func (c *connState) waitOnline(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.online {
			c.mu.Unlock()
			return nil
		}
		ch := c.waitCh
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// handleError распознаёт сетевые сбои MTProto. Возвращает true, если ошибка
// сетевая: состояние переводится в offline, а вызывающий код должен дождаться
// восстановления вместо немедленного ретрая.
func (c *connState) handleError(err error) bool {
	if err == nil || !isNetworkError(err) {
		return false
	}
	c.markDisconnected()
	return true
}

func isNetworkError(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, pool.ErrConnDead),
		errors.Is(err, rpc.ErrEngineClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr):
		return true
	default:
		return false
	}
}
