// Package version — имя и версия сборки ассистента.
// Version переопределяется при сборке:
//
//	go build -ldflags "-X second-brain/internal/support/version.Version=0.4.1"
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Name — человекочитаемое имя сервиса для логов и консоли.
	Name = "second-brain"
	// Version — семантическая версия; "dev" для локальных сборок без ldflags.
	Version = "dev"
)

// Full возвращает строку вида "second-brain v0.4.1 (abc1234)".
// Ревизия берётся из встроенной VCS-информации, если она есть.
func Full() string {
	if rev := vcsRevision(); rev != "" {
		return fmt.Sprintf("%s v%s (%s)", Name, Version, rev)
	}
	return fmt.Sprintf("%s v%s", Name, Version)
}

// vcsRevision достаёт короткий хеш коммита из build info.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	const short = 7
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= short {
			return setting.Value[:short]
		}
	}
	return ""
}
