package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a static PauseView keyed by lower-case module name.
type Pauses map[string]bool

// NewPauses builds a pause set from a list of module names.
func NewPauses(modules ...string) Pauses {
	p := make(Pauses, len(modules))
	for _, module := range modules {
		name := strings.ToLower(strings.TrimSpace(module))
		if name != "" {
			p[name] = true
		}
	}
	return p
}

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	return p[strings.ToLower(module)]
}
