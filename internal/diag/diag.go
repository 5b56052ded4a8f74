// Package diag is the host's diagnostic stream: a process-wide structured
// logger plus the warning-routing state machine described in spec.md §4.C.
package diag

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide diagnostic logger. Output is always stderr:
// stdout is reserved for script-directed output (print, REPL, -e results).
func New() *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}

// WarningPolicy implements the default warning-callback state machine from
// spec.md §4.C: messages prefixed "@" toggle or control printing; anything
// else is printed to the diagnostic stream only when printing is enabled.
//
// Script installs at most one warning callback per Instance; the policy is
// owned by that Instance and is not shared across threads.
type WarningPolicy struct {
	mu      sync.Mutex
	log     *zap.Logger
	enabled bool
}

// NewWarningPolicy returns a policy with printing disabled, matching the
// reference interpreter's default (warnings are off until "@on").
func NewWarningPolicy(log *zap.Logger) *WarningPolicy {
	return &WarningPolicy{log: log}
}

// Warning is the two-argument callback shape the interpreter invokes:
// (message, continuation). continuation=true means more fragments of the
// same logical warning follow and message should be concatenated by the
// caller before this call, per the interpreter's own convention; this
// policy does not buffer fragments itself, it only classifies directives.
func (p *WarningPolicy) Warning(message string, continuation bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.HasPrefix(message, "@") {
		switch message {
		case "@on":
			p.enabled = true
		case "@off":
			p.enabled = false
		default:
			// Unrecognized control directive: logged at debug, never printed
			// as a user-facing warning.
			p.log.Debug("warning control directive", zap.String("directive", message))
		}
		return
	}

	if p.enabled {
		p.log.Warn(message, zap.Bool("continuation", continuation))
	}
}

// Enabled reports whether printing is currently on, for tests.
func (p *WarningPolicy) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}
