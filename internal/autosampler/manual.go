package autosampler

import (
	"fmt"
	"sort"
	"strings"
)

// Manual actions map to single letter controller commands. Actions that take
// a holder are listed in holderActions.
var manualActions = map[string]string{
	"reset":       "r",
	"raise-error": "E",
	"home":        "h",
	"pusher-push": "a",
	"pusher-pull": "b",
	"air-push":    "c",
	"air-vent":    "d",
	"buzz":        "z",
}

var holderActions = map[string]string{
	"move":   "m",
	"insert": "M",
	"return": "R",
}

// ManualActions lists the action names accepted by Manual.
func ManualActions() []string {
	names := make([]string, 0, len(manualActions)+len(holderActions))
	for name := range manualActions {
		names = append(names, name)
	}
	for name := range holderActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NeedsHolder reports whether the action takes a holder argument.
func NeedsHolder(action string) bool {
	_, ok := holderActions[strings.ToLower(strings.TrimSpace(action))]
	return ok
}

// Manual sends an operator jog command without waiting for an outcome.
func (d *Driver) Manual(action string, holder int) error {
	action = strings.ToLower(strings.TrimSpace(action))
	if letter, ok := manualActions[action]; ok {
		return d.Yell(letter)
	}
	letter, ok := holderActions[action]
	if !ok {
		return fmt.Errorf("unknown autosampler action %q", action)
	}
	if err := checkHolder(holder); err != nil {
		return err
	}
	return d.Yell(fmt.Sprintf("%s%d", letter, holder))
}
