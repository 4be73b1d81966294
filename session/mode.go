package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mode selects which position source the strategy loop polls.
type Mode string

const (
	// ModePaper trades against synthetic positions, never the exchange.
	ModePaper Mode = "paper"
	// ModeLive trades against the real brokerage session.
	ModeLive Mode = "live"
)

// ParseMode validates an operator-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePaper, ModeLive:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q: must be %q or %q", s, ModePaper, ModeLive)
}

// modeFile is the on-disk record, kept as a tiny JSON document.
type modeFile struct {
	Mode Mode `json:"mode"`
}

// ModeStore persists the trade mode across process restarts with an atomic
// replace, the same temp-file-then-rename pattern the credential store uses.
type ModeStore struct {
	mu   sync.Mutex
	path string
}

func NewModeStore(path string) *ModeStore {
	return &ModeStore{path: path}
}

// Load returns the persisted mode, defaulting to paper when no file exists.
func (m *ModeStore) Load() (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ModePaper, nil
		}
		return ModePaper, fmt.Errorf("failed to read mode file: %w", err)
	}

	var record modeFile
	if err := json.Unmarshal(data, &record); err != nil {
		return ModePaper, fmt.Errorf("corrupt mode file %s: %w", m.path, err)
	}
	mode, err := ParseMode(string(record.Mode))
	if err != nil {
		return ModePaper, fmt.Errorf("corrupt mode file %s: %w", m.path, err)
	}
	return mode, nil
}

// Save persists the mode atomically.
func (m *ModeStore) Save(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(modeFile{Mode: mode})
	if err != nil {
		return fmt.Errorf("failed to marshal mode: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create mode directory: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary mode file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace mode file: %w", err)
	}
	return nil
}
