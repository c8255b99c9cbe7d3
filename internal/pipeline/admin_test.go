package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mailbot/internal/model"
)

type fakeControls struct {
	paused  bool
	resumed bool
	adjusts []string
	resized int
}

func (f *fakeControls) StatusReport() string { return "state=running queue=0" }
func (f *fakeControls) Pause()               { f.paused = true }
func (f *fakeControls) Resume()              { f.resumed = true }

func (f *fakeControls) ResizeQueue(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("invalid queue capacity %d", capacity)
	}
	f.resized = capacity
	return nil
}

func (f *fakeControls) AdjustTunable(param model.TunableParam, value float64) error {
	if param != model.TunableTemperature && param != model.TunableMaxTokens {
		return fmt.Errorf("unknown tunable parameter %q", param)
	}
	f.adjusts = append(f.adjusts, fmt.Sprintf("%s=%v", param, value))
	return nil
}

func adminMsg(subject, body string) model.RawMessage {
	return model.RawMessage{From: "admin@example.com", Subject: subject, Body: body}
}

func TestInterpretStatus(t *testing.T) {
	controls := &fakeControls{}
	i := NewInterpreter(controls, zap.NewNop())

	result := i.Interpret(adminMsg("!status", ""))
	assert.True(t, result.OK)
	assert.Equal(t, "status", result.Command)
	assert.Contains(t, result.Response, "state=running")
}

func TestInterpretStopStartRestart(t *testing.T) {
	controls := &fakeControls{}
	i := NewInterpreter(controls, zap.NewNop())

	result := i.Interpret(adminMsg("!stop", ""))
	assert.True(t, result.OK)
	assert.True(t, controls.paused)

	result = i.Interpret(adminMsg("!start", ""))
	assert.True(t, result.OK)
	assert.True(t, controls.resumed)

	controls.paused = false
	controls.resumed = false
	result = i.Interpret(adminMsg("!restart", ""))
	assert.True(t, result.OK)
	assert.True(t, controls.paused)
	assert.True(t, controls.resumed)
}

func TestInterpretConfig(t *testing.T) {
	controls := &fakeControls{}
	i := NewInterpreter(controls, zap.NewNop())

	result := i.Interpret(adminMsg("!config temperature=0.5", ""))
	require.True(t, result.OK)
	assert.Equal(t, []string{"temperature=0.5"}, controls.adjusts)

	result = i.Interpret(adminMsg("!config temperature", ""))
	assert.False(t, result.OK)
	assert.Contains(t, result.Response, "key=value")

	result = i.Interpret(adminMsg("!config temperature=hot", ""))
	assert.False(t, result.OK)
	assert.Contains(t, result.Response, "numeric")

	result = i.Interpret(adminMsg("!config top_p=0.9", ""))
	assert.False(t, result.OK)
	assert.Contains(t, result.Response, "unknown tunable")

	result = i.Interpret(adminMsg("!config queue_capacity=50", ""))
	require.True(t, result.OK)
	assert.Equal(t, 50, controls.resized)
	assert.Contains(t, result.Response, "queue_capacity set to 50")

	result = i.Interpret(adminMsg("!config queue_capacity=0", ""))
	assert.False(t, result.OK)
	assert.Contains(t, result.Response, "invalid queue capacity")
}

func TestInterpretUnknownAndMissing(t *testing.T) {
	i := NewInterpreter(&fakeControls{}, zap.NewNop())

	result := i.Interpret(adminMsg("!frobnicate", ""))
	assert.False(t, result.OK)
	assert.Contains(t, result.Response, "unknown command")

	result = i.Interpret(adminMsg("just checking in", "no commands here"))
	assert.False(t, result.OK)
	assert.Equal(t, "(none)", result.Command)
	assert.Contains(t, result.Response, "!help")
}

func TestInterpretBodyFallback(t *testing.T) {
	i := NewInterpreter(&fakeControls{}, zap.NewNop())

	// Subject has no command; the body is scanned next.
	result := i.Interpret(adminMsg("quick request", "please run !status for me"))
	assert.True(t, result.OK)
	assert.Equal(t, "status", result.Command)
}

func TestHelpListsCommands(t *testing.T) {
	i := NewInterpreter(&fakeControls{}, zap.NewNop())

	result := i.Interpret(adminMsg("!help", ""))
	assert.True(t, result.OK)
	for _, cmd := range []string{"!status", "!stop", "!start", "!restart", "!config", "!help"} {
		assert.Contains(t, result.Response, cmd)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	i := NewInterpreter(&fakeControls{}, zap.NewNop())

	for n := 0; n < commandHistoryLimit+10; n++ {
		i.Interpret(adminMsg("!status", ""))
	}

	history := i.History()
	assert.Len(t, history, commandHistoryLimit)

	// History is a copy; mutating it does not affect the interpreter.
	history[0].Command = "mutated"
	assert.Equal(t, "status", i.History()[0].Command)
}

type erroringControls struct {
	fakeControls
}

func (e *erroringControls) AdjustTunable(model.TunableParam, float64) error {
	return errors.New("adjustment rejected")
}

func TestConfigErrorSurfacesInResponse(t *testing.T) {
	i := NewInterpreter(&erroringControls{}, zap.NewNop())

	result := i.Interpret(adminMsg("!config temperature=0.5", ""))
	assert.False(t, result.OK)
	assert.Equal(t, "adjustment rejected", result.Response)
}
