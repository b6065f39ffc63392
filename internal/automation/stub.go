//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"p2p-go-home/internal/manager"
)

// ErrScriptNotFound is returned when no script file has the requested id.
var ErrScriptNotFound = errors.New("script not found")

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	Modified time.Time  `json:"modified"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// ScriptStore is a no-op stub when automation is disabled.
type ScriptStore struct{}

// NewScriptStore returns a nil store when automation is disabled.
func NewScriptStore(_ string, _ *slog.Logger) (*ScriptStore, error) { return nil, nil }

func (m *ScriptStore) List() ([]*Script, error) { return nil, nil }

func (m *ScriptStore) Get(_ string) (*Script, error) { return nil, ErrScriptNotFound }

func (m *ScriptStore) Save(s *Script) (*Script, error) { return s, nil }

func (m *ScriptStore) Delete(_ string) error { return ErrScriptNotFound }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ *manager.Manager, _ *ScriptStore, _ *slog.Logger) *Engine {
	return &Engine{}
}

func (e *Engine) Start() {}

func (e *Engine) Stop() {}

func (e *Engine) Running() []string { return nil }

func (e *Engine) ReloadScript(_ string) error { return nil }

func (e *Engine) StopScript(_ string) {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
