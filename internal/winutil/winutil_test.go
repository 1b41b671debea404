package winutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutexName(t *testing.T) {
	assert.Equal(t, `Local\AICLICompanion_SingleInstance`, mutexName(""))
	assert.Equal(t, `Local\Tray_SingleInstance`, mutexName("Tray"))
}

func TestToastScript_EscapesInput(t *testing.T) {
	script := toastScript("", "Server <stopped>", "it's gone & exited")

	assert.Contains(t, script, "Server &lt;stopped&gt;")
	assert.Contains(t, script, "it''s gone &amp; exited")
	assert.Contains(t, script, "CreateToastNotifier('AICLICompanion')")
	assert.False(t, strings.Contains(script, "<stopped>"))
}

func TestAcquireSingleInstance(t *testing.T) {
	lock, err := AcquireSingleInstance("winutil-test")
	assert.NoError(t, err)
	if assert.NotNil(t, lock) {
		lock.Release()
	}
}
