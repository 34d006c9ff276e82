package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook adds the "file:line" of the logging call site to every entry.
type contextHook struct {
	trimPrefix string
}

func NewContextHook() contextHook {
	return contextHook{trimPrefix: "/admission/"}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	if loc := hook.callSite(string(debug.Stack())); loc != "" {
		entry.Data["file:line"] = loc
	}
	return nil
}

// callSite walks the stack below this hook and returns the first frame outside logrus.
// Stack traces alternate function lines and "\tfile:line +0x.." lines.
func (hook contextHook) callSite(stack string) string {
	lines := strings.Split(stack, "\n")
	foundHook := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !foundHook {
			foundHook = strings.Contains(line, "context_hook.go:")
			continue
		}
		if !strings.HasPrefix(line, "\t") || strings.Contains(line, "sirupsen/logrus") {
			continue
		}
		loc := strings.TrimSpace(line)
		if idx := strings.LastIndex(loc, " +0x"); idx >= 0 {
			loc = loc[:idx]
		}
		if idx := strings.Index(loc, hook.trimPrefix); idx >= 0 {
			loc = loc[idx+len(hook.trimPrefix):]
		}
		return loc
	}
	return ""
}
