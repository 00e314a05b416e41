package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/logging"
)

// CommandPrefix starts every built-in chat command. Matching ignores case.
const CommandPrefix = "friday:"

// pinScanLimit bounds how far back pin looks for an assistant reply.
const pinScanLimit = 50

// HandleCommand answers built-in commands. It reports false when text is an
// ordinary message.
func (e *Engine) HandleCommand(ctx context.Context, text string) (string, bool, error) {
	name, arg, ok := parseCommand(text)
	if !ok {
		return "", false, nil
	}
	if e.memory == nil {
		return "Memory is disabled.", true, nil
	}

	switch name {
	case "pin":
		return e.pinLast(ctx, arg)

	case "forget":
		if arg == "" {
			return "Tell me what to forget, e.g. \"friday: forget my old address\".", true, nil
		}
		n, err := e.memory.Forget(ctx, arg, 0)
		if err != nil {
			return "", true, err
		}
		return fmt.Sprintf("Forgot %d similar memories.", n), true, nil

	case "goals":
		goals := e.memory.Goals()
		if len(goals) == 0 {
			return "No working goals yet. State a new goal to track it.", true, nil
		}
		return "Working goals:\n- " + strings.Join(goals, "\n- "), true, nil

	case "pinned":
		records, err := e.memory.ListPinned(ctx)
		if err != nil {
			return "", true, err
		}
		if len(records) == 0 {
			return "Nothing is pinned.", true, nil
		}
		lines := make([]string, len(records))
		for i, r := range records {
			lines[i] = "- " + r.Content
			if r.PinNote != "" {
				lines[i] += " (" + r.PinNote + ")"
			}
		}
		return fmt.Sprintf("%d pinned:\n%s", len(records), strings.Join(lines, "\n")), true, nil

	case "stats":
		n, err := e.memory.Stats(ctx)
		if err != nil {
			return "", true, err
		}
		return fmt.Sprintf("%d memories stored.", n), true, nil
	}

	return "", false, nil
}

func (e *Engine) pinLast(ctx context.Context, note string) (string, bool, error) {
	records, err := e.memory.ListRecent(ctx, pinScanLimit, core.RoleAssistant)
	if err != nil {
		return "", true, err
	}
	if len(records) == 0 {
		return "No assistant messages found to pin.", true, nil
	}

	last := records[len(records)-1]
	if err := e.memory.Pin(ctx, last.ID, note); err != nil {
		return "", true, err
	}
	logging.From(ctx).Info("pinned last reply", "id", last.ID, "note", note)
	return "Pinned last assistant message.", true, nil
}

// parseCommand splits "friday: <name> <arg>" into its parts. Unknown names
// are not commands.
func parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < len(CommandPrefix) || !strings.EqualFold(text[:len(CommandPrefix)], CommandPrefix) {
		return "", "", false
	}

	rest := strings.TrimSpace(text[len(CommandPrefix):])
	name, arg, _ = strings.Cut(rest, " ")
	name = strings.ToLower(name)
	switch name {
	case "pin", "forget", "goals", "pinned", "stats":
		return name, strings.TrimSpace(arg), true
	}
	return "", "", false
}
