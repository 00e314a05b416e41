package memory_test

import (
	"testing"

	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/gt"
)

func TestGoalStackDeduplicatesCaseInsensitively(t *testing.T) {
	s := memory.NewGoalStack(3)
	gt.True(t, s.Push("ship v2"))
	gt.True(t, s.Push("  Ship V2 "))

	goals := s.List()
	gt.A(t, goals).Length(1)
	gt.Equal(t, goals[0], "Ship V2")
}

func TestGoalStackKeepsMostRecent(t *testing.T) {
	s := memory.NewGoalStack(3)
	for _, g := range []string{"one", "two", "three", "four"} {
		s.Push(g)
	}
	gt.Equal(t, s.List(), []string{"four", "three", "two"})

	// Re-pushing an existing goal moves it to the front without growing.
	s.Push("two")
	gt.Equal(t, s.List(), []string{"two", "four", "three"})
}

func TestGoalStackIgnoresBlank(t *testing.T) {
	s := memory.NewGoalStack(0)
	gt.False(t, s.Push("   "))
	gt.A(t, s.List()).Length(0)
}

func TestGoalStackClear(t *testing.T) {
	s := memory.NewGoalStack(3)
	s.Push("learn go")
	s.Clear()
	gt.A(t, s.List()).Length(0)
}
