package registry

import "github.com/loykin/stackctl/internal/config"

// UIMode selects how the UI server is run by its toolchain.
type UIMode struct {
	Release bool // run the built artifact instead of the dev server
	Web     bool // serve to a browser instead of the desktop shell
}

func (m UIMode) String() string {
	s := "dev"
	if m.Release {
		s = "release"
	}
	if m.Web {
		s += "+web"
	}
	return s
}

// Script picks the toolchain script for the mode.
func (m UIMode) Script(s config.Scripts) string {
	switch {
	case m.Release && m.Web:
		return s.ReleaseWeb
	case m.Release:
		return s.Release
	case m.Web:
		return s.DevWeb
	default:
		return s.Dev
	}
}
