package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by every mutating entry point of a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is halted. A nil view or an
// unnamed module never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || strings.TrimSpace(module) == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

type pauseStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var pausePrefix = []byte("common/pause/")

// PauseSwitch persists per-module pause flags. Modules consult it through the
// PauseView interface.
type PauseSwitch struct {
	store pauseStore
}

// NewPauseSwitch wires the switch to a key-value store.
func NewPauseSwitch(store pauseStore) *PauseSwitch {
	return &PauseSwitch{store: store}
}

func pauseKey(module string) []byte {
	normalized := strings.ToLower(strings.TrimSpace(module))
	return append(append([]byte(nil), pausePrefix...), normalized...)
}

// IsPaused implements PauseView. Read failures report the module as paused.
func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil || s.store == nil {
		return false
	}
	var paused bool
	ok, err := s.store.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	return ok && paused
}

// SetPaused toggles the flag for module.
func (s *PauseSwitch) SetPaused(module string, paused bool) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("pause switch: store not configured")
	}
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pause switch: module required")
	}
	return s.store.KVPut(pauseKey(module), paused)
}
