package hooks

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestContextHookAddsCallSite(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := log.New()
	logger.Out = buf
	logger.Formatter = &log.JSONFormatter{}
	logger.AddHook(NewContextHook())

	logger.Info("hello")
	assert.Contains(t, buf.String(), `"file:line":"`)
	assert.Contains(t, buf.String(), "context_hook_test.go:")
}

func TestCallSiteTrimsPrefix(t *testing.T) {
	stack := "goroutine 1 [running]:\n" +
		"github.com/twitter/admission/common/log/hooks.contextHook.Fire(...)\n" +
		"\t/src/admission/common/log/hooks/context_hook.go:25 +0x3c\n" +
		"github.com/sirupsen/logrus.LevelHooks.Fire(...)\n" +
		"\t/go/pkg/mod/github.com/sirupsen/logrus@v1.9.3/hooks.go:28 +0x8d\n" +
		"github.com/twitter/admission/admission/server.(*Controller).step(...)\n" +
		"\t/src/admission/admission/server/controller.go:120 +0x1f\n"
	assert.Equal(t, "admission/server/controller.go:120", NewContextHook().callSite(stack))
}
