package memory

import (
	"strings"
	"sync"
)

// DefaultMaxGoals is how many working goals are remembered.
const DefaultMaxGoals = 3

// GoalStack keeps the most recent distinct goals of a session, newest
// first. It is never persisted.
type GoalStack struct {
	mu    sync.Mutex
	max   int
	goals []string
}

// NewGoalStack creates a stack holding at most max goals.
func NewGoalStack(max int) *GoalStack {
	if max <= 0 {
		max = DefaultMaxGoals
	}
	return &GoalStack{max: max}
}

// Push moves goal to the front, dropping any case-insensitive duplicate and
// anything beyond the limit. Blank goals are ignored. It reports whether
// the goal was accepted.
func (s *GoalStack) Push(goal string) bool {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]string, 0, s.max)
	next = append(next, goal)
	for _, g := range s.goals {
		if len(next) == s.max {
			break
		}
		if !strings.EqualFold(g, goal) {
			next = append(next, g)
		}
	}
	s.goals = next
	return true
}

// List returns a copy of the goals, most recent first.
func (s *GoalStack) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.goals...)
}

// Clear empties the stack.
func (s *GoalStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = nil
}
