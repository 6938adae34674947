// Package listener — заглушка голосового ассистента с постоянным
// прослушиванием. Реального захвата звука нет и не планируется в этом
// процессе: детекция речи и ключевого слова должны выполняться локально
// на устройстве, а сырой звук никогда не покидает его и не сохраняется.
// Пакет фиксирует контракт состояний, чтобы транспорты и консоль могли
// показывать статус, когда внешняя реализация появится.
package listener

import "context"

// State — состояние голосового ассистента.
type State string

const (
	StateNotAvailable State = "not_available"
	StateStopped      State = "stopped"
	StateListening    State = "listening"
	StateActivated    State = "activated"
	StateProcessing   State = "processing"
	StateResponding   State = "responding"
)

// Listener — интерфейс ассистента. Единственная реализация здесь — Stub.
type Listener interface {
	Available() bool
	State() State
	Start(ctx context.Context) error
	Stop() error
}

// Stub — пустая реализация: ассистент недоступен, все методы — no-op.
type Stub struct{}

func (Stub) Available() bool { return false }

func (Stub) State() State { return StateNotAvailable }

func (Stub) Start(context.Context) error { return nil }

func (Stub) Stop() error { return nil }
