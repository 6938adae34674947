// Package pr — унифицированный вывод в интерактивной консоли ассистента.
// Инициализирует readline с отменяемым stdin, переназначает stdout/stderr на его
// буферы (включая консольный вывод zap) и предоставляет функции печати для
// обычного и диагностического вывода. Мьютекс защищает только смену целевых
// writer'ов; потокобезопасность записей — на стороне самих writer'ов.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"

	"second-brain/internal/infra/logger"
)

var (
	// rl — активный инстанс readline. Появляется после Init(); до этого nil.
	rl *readline.Instance
	// out — текущий stdout. До Init() — os.Stdout, после — rl.Stdout().
	out io.Writer = os.Stdout
	// errOut — текущий stderr. До Init() — os.Stderr, после — rl.Stderr().
	errOut io.Writer = os.Stderr
	// mu защищает замену ссылок на writer'ы и cancelableIn.
	mu sync.Mutex

	// cancelableIn — stdin, который можно закрыть для прерывания чтения (io.EOF в readline).
	cancelableIn interface{ Close() error }
)

// Init настраивает readline с приглашением prompt и перенаправляет потоки
// вывода (в том числе консольную ветку логгера) на его stdout/stderr, чтобы
// строки лога не рвали текущую строку ввода. Повторный вызов не предусмотрен.
func Init(prompt string) error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{
		Prompt: prompt,
		Stdin:  cs,
	})
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = newRl

	mu.Lock()
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()

	logger.SetWriters(rl.Stdout(), rl.Stderr())
	return nil
}

// InterruptReadline закрывает cancelable stdin: Readline() получает io.EOF и
// возвращается. Повторное закрытие безопасно.
func InterruptReadline() {
	mu.Lock()
	cs := cancelableIn
	mu.Unlock()
	if cs != nil {
		_ = cs.Close()
	}
}

// SetPrompt задаёт строку приглашения. До Init() — no-op.
func SetPrompt(prompt string) {
	if rl != nil {
		rl.SetPrompt(prompt)
	}
}

// Rl возвращает текущий инстанс readline (nil, если Init() не вызывался).
func Rl() *readline.Instance {
	return rl
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Print печатает значения в Stdout без перевода строки.
func Print(a ...any) {
	fmt.Fprint(Stdout(), a...)
}

// Println печатает значения в Stdout с переводом строки. Работает и до Init().
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf форматирует строку и печатает её в Stdout.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrint печатает значения в Stderr без перевода строки.
func ErrPrint(a ...any) {
	fmt.Fprint(Stderr(), a...)
}

// ErrPrintln печатает значения в Stderr с переводом строки.
func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// ErrPrintf форматирует строку и печатает её в Stderr.
func ErrPrintf(format string, a ...any) {
	fmt.Fprintf(Stderr(), format, a...)
}

// PP pretty-печатает значение в Stdout. Для отладочных дампов записей базы
// знаний и очереди; не для горячих путей.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// Pf возвращает pretty-строку значения.
func Pf(v any) string {
	return fmt.Sprintf("%# v\n", pretty.Formatter(v))
}
