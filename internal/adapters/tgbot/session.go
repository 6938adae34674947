package tgbot

// Файловое хранилище MTProto-сессии. Запись атомарная, чтобы крэш во время
// сохранения не оставил на диске полусессию, бесполезную при следующем старте.

import (
	"context"
	"os"
	"sync"

	"second-brain/internal/infra/storage"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// fileSession реализует tdsession.Storage поверх одного файла на диске.
// Потокобезопасен: gotd может звать Load/Store из разных горутин.
type fileSession struct {
	path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*fileSession)(nil)

func (f *fileSession) LoadSession(_ context.Context) ([]byte, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

func (f *fileSession) StoreSession(_ context.Context, data []byte) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.path, data); err != nil {
		return errors.Wrap(err, "write session")
	}
	return nil
}
