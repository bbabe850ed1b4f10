// Package version хранит сведения о сборке, которые подставляются через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает сборку сервиса.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Get возвращает сведения о сборке. Если commit не передан через -ldflags,
// берётся vcs.revision из debug.BuildInfo.
func Get() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if b.Commit != "unknown" {
		return b
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Commit = setting.Value
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = setting.Value
			}
		}
	}
	return b
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return Get().Version }

func String() string {
	b := Get()
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}
