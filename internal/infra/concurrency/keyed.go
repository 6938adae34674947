// В этом файле реализован KeyedMutex — именованные мьютексы для сериализации
// операций по ключу. Обработка сообщений идёт на пуле воркеров, но состояние
// конкретного чата (кольца недавних действий, сессии дебрифа) должно меняться
// строго последовательно — KeyedMutex даёт «мьютекс на чат» без глобальной блокировки.
package concurrency

import "sync"

// KeyedMutex — набор мьютексов, создаваемых лениво по ключу. Мьютексы не
// удаляются: количество ключей ограничено числом активных чатов пользователя.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex создаёт пустой набор именованных мьютексов.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// get возвращает мьютекс для ключа, создавая его при первом обращении.
func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Lock блокирует мьютекс ключа. Парный Unlock обязателен.
func (k *KeyedMutex) Lock(key string) {
	k.get(key).Lock()
}

// Unlock освобождает мьютекс ключа.
func (k *KeyedMutex) Unlock(key string) {
	k.get(key).Unlock()
}

// Do выполняет fn под мьютексом ключа.
func (k *KeyedMutex) Do(key string, fn func()) {
	m := k.get(key)
	m.Lock()
	defer m.Unlock()
	fn()
}
