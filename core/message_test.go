package core_test

import (
	"testing"

	"github.com/becomeliminal/friday/core"
	"github.com/m-mizutani/gt"
)

func TestParseRole(t *testing.T) {
	r, err := core.ParseRole(" User ")
	gt.NoError(t, err)
	gt.Equal(t, r, core.RoleUser)

	r, err = core.ParseRole("assistant")
	gt.NoError(t, err)
	gt.Equal(t, r, core.RoleAssistant)

	_, err = core.ParseRole("system")
	gt.Error(t, err)
}

func TestMessageLine(t *testing.T) {
	m := core.Message{Role: core.RoleAssistant, Content: "hello"}
	gt.Equal(t, m.Line(), "assistant: hello")
}
