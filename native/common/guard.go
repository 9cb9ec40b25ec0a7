package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// GlobalModule pauses every module at once when set on a PauseView.
const GlobalModule = "*"

type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module, or every module, is paused.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	if module != GlobalModule && p.IsPaused(GlobalModule) {
		return fmt.Errorf("%w: all modules", ErrModulePaused)
	}
	return nil
}
