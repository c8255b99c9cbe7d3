package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mailbot/internal/model"
)

// commandMarker prefixes a control command token in the subject or body
// of an admin message, e.g. "!status" or "!config temperature=0.5".
const commandMarker = "!"

// commandHistoryLimit bounds the retained command history; the oldest
// entry is evicted first.
const commandHistoryLimit = 50

// CommandResult records one interpreted admin command, successful or
// not.
type CommandResult struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Args     string    `json:"args,omitempty"`
	Response string    `json:"response"`
	OK       bool      `json:"ok"`
	At       time.Time `json:"at"`
}

// Controls is the narrow worker surface the admin interpreter drives.
type Controls interface {
	// StatusReport returns a human-readable status summary.
	StatusReport() string

	// Pause suspends item processing; queued items are retained.
	Pause()

	// Resume restarts item processing after a pause.
	Resume()

	// AdjustTunable applies a runtime adjustment to one of the closed
	// set of tunable parameters.
	AdjustTunable(param model.TunableParam, value float64) error

	// ResizeQueue changes the processing queue's capacity.
	ResizeQueue(capacity int) error
}

// Interpreter recognizes control commands in messages from the operator
// address and executes them against the worker instead of the AI reply
// path.
type Interpreter struct {
	controls Controls
	logger   *zap.Logger

	mu      sync.Mutex
	history []CommandResult
}

// NewInterpreter creates an admin command interpreter bound to the
// given worker controls.
func NewInterpreter(controls Controls, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		controls: controls,
		logger:   logger,
	}
}

// Interpret scans the message for a marker-prefixed command, executes
// it, and returns the result. Unknown commands yield a descriptive
// result rather than an error. Every invocation is appended to the
// bounded command history.
func (i *Interpreter) Interpret(msg model.RawMessage) CommandResult {
	command, args := scanCommand(msg.Subject)
	if command == "" {
		command, args = scanCommand(msg.Body)
	}

	result := CommandResult{
		ID:      uuid.NewString(),
		Command: command,
		Args:    args,
		At:      time.Now(),
	}

	switch command {
	case "status":
		result.Response = i.controls.StatusReport()
		result.OK = true

	case "stop":
		i.controls.Pause()
		result.Response = "processing paused"
		result.OK = true

	case "start":
		i.controls.Resume()
		result.Response = "processing resumed"
		result.OK = true

	case "restart":
		i.controls.Pause()
		i.controls.Resume()
		result.Response = "processing restarted"
		result.OK = true

	case "config":
		result.Response, result.OK = i.applyConfig(args)

	case "help":
		result.Response = "commands: " + commandMarker + "status, " +
			commandMarker + "stop, " + commandMarker + "start, " +
			commandMarker + "restart, " + commandMarker + "config key=value, " +
			commandMarker + "help"
		result.OK = true

	case "":
		result.Command = "(none)"
		result.Response = "no command found; send " + commandMarker + "help for usage"

	default:
		result.Response = fmt.Sprintf(
			"unknown command %q; send %shelp for usage", command, commandMarker,
		)
	}

	i.logger.Info("admin command interpreted",
		zap.String("command", result.Command),
		zap.Bool("ok", result.OK))

	i.record(result)
	return result
}

// applyConfig parses "key=value" and applies it: queue_capacity resizes
// the processing queue, everything else goes through the closed tunable
// set.
func (i *Interpreter) applyConfig(args string) (string, bool) {
	key, rawValue, found := strings.Cut(strings.TrimSpace(args), "=")
	if !found {
		return "config requires key=value", false
	}
	key = strings.TrimSpace(key)

	value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
	if err != nil {
		return fmt.Sprintf("invalid value %q: must be numeric", rawValue), false
	}

	if key == "queue_capacity" {
		capacity := int(value)
		if err := i.controls.ResizeQueue(capacity); err != nil {
			return err.Error(), false
		}
		return fmt.Sprintf("queue_capacity set to %d", capacity), true
	}

	param := model.TunableParam(key)
	if err := i.controls.AdjustTunable(param, value); err != nil {
		return err.Error(), false
	}

	return fmt.Sprintf("%s set to %v", param, value), true
}

// History returns a copy of the command history, oldest first.
func (i *Interpreter) History() []CommandResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	history := make([]CommandResult, len(i.history))
	copy(history, i.history)
	return history
}

// record appends to the bounded history.
func (i *Interpreter) record(result CommandResult) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.history = append(i.history, result)
	if len(i.history) > commandHistoryLimit {
		i.history = i.history[len(i.history)-commandHistoryLimit:]
	}
}

// scanCommand finds the first marker-prefixed token in text and returns
// the command with the remainder of the text as its arguments.
func scanCommand(text string) (command, args string) {
	fields := strings.Fields(text)
	for idx, field := range fields {
		if !strings.HasPrefix(field, commandMarker) || len(field) <= len(commandMarker) {
			continue
		}
		command = strings.ToLower(strings.TrimPrefix(field, commandMarker))
		args = strings.Join(fields[idx+1:], " ")
		return command, args
	}
	return "", ""
}
