package microapp

import (
	"fmt"
	"strings"
)

// Action is a set of operations to perform on a slot.
type Action uint8

const (
	// ActionRequest checks capacity and clears the slot.
	ActionRequest Action = 1 << iota
	ActionUpload
	ActionValidate
	ActionEnable
	ActionDisable

	// ActionAdd is the full install sequence.
	ActionAdd = ActionRequest | ActionUpload | ActionValidate | ActionEnable
)

var actionNames = []struct {
	action Action
	name   string
}{
	{ActionRequest, "request"},
	{ActionUpload, "upload"},
	{ActionValidate, "validate"},
	{ActionEnable, "enable"},
	{ActionDisable, "disable"},
}

// Has reports whether all of b is in a.
func (a Action) Has(b Action) bool {
	return a&b == b
}

func (a Action) String() string {
	if a == ActionAdd {
		return "add"
	}
	var parts []string
	for _, n := range actionNames {
		if a.Has(n.action) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// NeedsImage reports whether the action set reads the image.
func (a Action) NeedsImage() bool {
	return a&(ActionRequest|ActionUpload) != 0
}

// ParseAction parses one action name or a comma or '+' separated list.
func ParseAction(s string) (Action, error) {
	var a Action
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ',' || r == '+' || r == ' '
	})
	for _, f := range fields {
		if f == "add" {
			a |= ActionAdd
			continue
		}
		found := false
		for _, n := range actionNames {
			if n.name == f {
				a |= n.action
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownAction, f)
		}
	}
	if a == 0 {
		return 0, ErrNoActions
	}
	return a, nil
}
