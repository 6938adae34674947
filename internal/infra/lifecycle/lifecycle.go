// Package lifecycle — менеджер управляемых подсистем приложения.
// Узлы регистрируются с явными зависимостями; StartAll поднимает их в
// топологическом порядке, Shutdown гасит в обратном. Каждый узел получает
// дочерний контекст от корневого: отмена корня сигналит всем фоновым
// горутинам. Stop-хуки выполняются с общим дедлайном остановки.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"second-brain/internal/infra/logger"
)

// StartFunc запускает узел. Контекст отменяется при общем завершении;
// реализация обязана завести фоновые горутины именно на нём.
type StartFunc func(ctx context.Context) error

// StopFunc останавливает узел. Контекст узла к этому моменту уже отменён;
// переданный ctx несёт дедлайн остановки (грейс-период всего приложения).
type StopFunc func(ctx context.Context) error

// Status — состояние узла в жизненном цикле менеджера.
type Status int

const (
	StatusRegistered Status = iota // зарегистрирован, ещё не запускался
	StatusStarting                 // идёт запуск или ожидание зависимостей
	StatusRunning                  // успешно запущен, контекст активен
	StatusStopping                 // получена команда на остановку
	StatusStopped                  // корректно остановлен
	StatusFailed                   // ошибка при запуске/остановке
)

// String возвращает текстовое представление для статусных отчётов консоли.
func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type node struct {
	name string
	deps []string

	start StartFunc
	stop  StopFunc

	cancel context.CancelFunc
	status Status
	err    error
}

// Manager управляет жизненным циклом набора узлов: порядок запуска учитывает
// зависимости, остановка идёт строго в обратном порядке. Потокобезопасен.
type Manager struct {
	rootCtx context.Context

	mu         sync.Mutex
	nodes      map[string]*node
	order      []string // порядок регистрации — базовый порядок обхода
	startOrder []string // фактический порядок запуска, нужен для обратной остановки
}

// New создаёт менеджер. Все узлы получат контексты, производные от rootCtx.
func New(rootCtx context.Context) *Manager {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Manager{
		rootCtx: rootCtx,
		nodes:   make(map[string]*node),
	}
}

// Register добавляет узел name с зависимостями deps, которые должны быть
// запущены ДО него. Дубликаты в deps схлопываются, самозависимость — ошибка.
func (m *Manager) Register(name string, deps []string, start StartFunc, stop StopFunc) error {
	if name == "" {
		return errors.New("lifecycle: empty node name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[name]; exists {
		return fmt.Errorf("lifecycle: node %q already registered", name)
	}

	uniqueDeps := slices.Compact(slices.Clone(deps))
	if slices.Contains(uniqueDeps, name) {
		return fmt.Errorf("lifecycle: node %q cannot depend on itself", name)
	}

	m.nodes[name] = &node{
		name:   name,
		deps:   uniqueDeps,
		start:  start,
		stop:   stop,
		status: StatusRegistered,
	}
	m.order = append(m.order, name)
	return nil
}

// MustRegister — Register с panic при ошибке. Используется на этапе сборки
// приложения, где ошибка регистрации означает дефект программы.
func (m *Manager) MustRegister(name string, deps []string, start StartFunc, stop StopFunc) {
	if err := m.Register(name, deps, start, stop); err != nil {
		panic(err)
	}
}

// StartAll запускает все зарегистрированные узлы в порядке регистрации с учётом
// зависимостей. При первой ошибке запуск прерывается: уже поднятые узлы
// остаются запущенными, вызывающая сторона обязана выполнить Shutdown.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	names := slices.Clone(m.order)
	m.mu.Unlock()

	for _, name := range names {
		if err := m.startNode(name); err != nil {
			return err
		}
	}

	m.mu.Lock()
	started := slices.Clone(m.startOrder)
	m.mu.Unlock()
	logger.Debugf("lifecycle start order: %v", started)
	return nil
}

// startNode рекурсивно запускает узел: сначала все deps, затем сам узел.
// Повторный вход в Starting трактуется как цикл зависимостей.
func (m *Manager) startNode(name string) error {
	m.mu.Lock()
	n, exists := m.nodes[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: node %q not registered", name)
	}

	switch n.status {
	case StatusRunning:
		m.mu.Unlock()
		return nil
	case StatusStarting:
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: dependency cycle at %q", name)
	case StatusRegistered, StatusStopping, StatusStopped, StatusFailed:
	}
	n.status = StatusStarting
	m.mu.Unlock()

	for _, dep := range n.deps {
		if err := m.startNode(dep); err != nil {
			m.setFailed(name, err)
			return fmt.Errorf("lifecycle: start %q: dependency: %w", name, err)
		}
	}

	nodeCtx, cancel := context.WithCancel(m.rootCtx)

	if n.start != nil {
		if err := n.start(nodeCtx); err != nil {
			cancel()
			m.setFailed(name, err)
			logger.Errorf("failed to start node %s: %v", name, err)
			return fmt.Errorf("lifecycle: start %q: %w", name, err)
		}
	}

	m.mu.Lock()
	n.cancel = cancel
	n.status = StatusRunning
	n.err = nil
	if !slices.Contains(m.startOrder, name) {
		m.startOrder = append(m.startOrder, name)
	}
	m.mu.Unlock()

	logger.Debugf("node %s is running", name)
	return nil
}

// Shutdown останавливает запущенные узлы в порядке, обратном фактическому
// старту: дочерние сервисы гаснут раньше своих зависимостей. ctx несёт общий
// дедлайн остановки и передаётся каждому stop-хуку. Возвращает объединённую
// ошибку всех неудавшихся остановок.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	order := slices.Clone(m.startOrder)
	m.mu.Unlock()
	logger.Debugf("lifecycle shutdown order (reversed): %v", order)

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopNode(ctx, order[i]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// stopNode останавливает узел в состоянии Running: отменяет его контекст,
// вызывает StopFunc с дедлайном остановки и фиксирует итоговый статус.
func (m *Manager) stopNode(ctx context.Context, name string) error {
	m.mu.Lock()
	n, exists := m.nodes[name]
	if !exists || n.status != StatusRunning {
		m.mu.Unlock()
		return nil
	}
	n.status = StatusStopping
	cancel := n.cancel
	stopFn := n.stop
	m.mu.Unlock()

	logger.Debugf("stopping node %s", name)

	// Сначала отменяем контекст — сигнал фоновым горутинам узла.
	if cancel != nil {
		cancel()
	}

	var err error
	if stopFn != nil {
		err = stopFn(ctx)
	}

	m.mu.Lock()
	if err != nil {
		n.status = StatusFailed
		n.err = err
	} else {
		n.status = StatusStopped
		n.err = nil
	}
	m.mu.Unlock()

	if err != nil {
		logger.Errorf("node %s stopped with error: %v", name, err)
		return fmt.Errorf("lifecycle: stop %q: %w", name, err)
	}
	logger.Debugf("node %s stopped", name)
	return nil
}

// setFailed помечает узел как Failed и сохраняет ошибку под мьютексом.
func (m *Manager) setFailed(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nodes[name]; ok {
		n.status = StatusFailed
		n.err = err
	}
}

// NodeReport — снимок состояния одного узла для статусных отчётов.
type NodeReport struct {
	Name   string
	Status Status
	Err    error
}

// Report возвращает снимок состояний всех узлов в порядке регистрации.
func (m *Manager) Report() []NodeReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := make([]NodeReport, 0, len(m.order))
	for _, name := range m.order {
		n := m.nodes[name]
		reports = append(reports, NodeReport{Name: n.name, Status: n.status, Err: n.err})
	}
	return reports
}
