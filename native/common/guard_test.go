package common

import (
	"errors"
	"testing"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	tests := []struct {
		name    string
		view    PauseView
		module  string
		blocked bool
	}{
		{"nil view", nil, "lending", false},
		{"empty module", pauseMap{"lending": true}, "", false},
		{"other module paused", pauseMap{"swap": true}, "lending", false},
		{"module paused", pauseMap{"lending": true}, "lending", true},
		{"global pause", pauseMap{GlobalModule: true}, "lending", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Guard(tc.view, tc.module)
			if tc.blocked != errors.Is(err, ErrModulePaused) {
				t.Fatalf("blocked=%v, got %v", tc.blocked, err)
			}
		})
	}
}
