package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/feed"
)

// Placeholders expanded in ProcessConfig.Args.
const (
	PlaceholderText  = "{text}"
	PlaceholderVoice = "{voice}"
	PlaceholderRate  = "{rate}"
	PlaceholderPitch = "{pitch}"
)

// baseRate is the words-per-minute value {rate} expands to at speed 1.
const baseRate = 175

// ProcessConfig configures a ProcessEngine.
type ProcessConfig struct {
	// Command is the synthesizer executable, e.g. "espeak-ng".
	Command string
	// Args may reference {voice}, {rate}, {pitch} and {text}. Without {text}
	// the utterance text is written to the command's stdin.
	Args     []string
	Settings Settings
	Logger   *slog.Logger
}

// DefaultProcessArgs match espeak-ng's command line.
func DefaultProcessArgs() []string {
	return []string{"-v", PlaceholderVoice, "-s", PlaceholderRate, "-p", PlaceholderPitch, "--stdin"}
}

// runFunc runs one synthesizer invocation to completion.
type runFunc func(ctx context.Context, name string, args []string, stdin string) error

func execRun(ctx context.Context, name string, args []string, stdin string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type queued struct {
	id   string
	text string
}

// ProcessEngine speaks utterances by running an external synthesizer command,
// one process per utterance, in queue order.
type ProcessEngine struct {
	command string
	args    []string
	run     runFunc
	logger  *slog.Logger

	progress feed.Feed[Progress]

	mu       sync.Mutex
	settings Settings
	queue    []queued
	gen      uint64
	cancel   context.CancelFunc
	wake     chan struct{}
	done     chan struct{}
	closed   bool
}

// NewProcessEngine creates the engine and starts its worker.
func NewProcessEngine(cfg ProcessConfig) (*ProcessEngine, error) {
	if cfg.Command == "" {
		return nil, errors.Validation("tts command is required")
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, errors.Wrapf(err, errors.CodeUnsupported, "tts command %q not found", cfg.Command)
	}
	return newProcessEngine(cfg, execRun), nil
}

func newProcessEngine(cfg ProcessConfig, run runFunc) *ProcessEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := cfg.Args
	if len(args) == 0 {
		args = DefaultProcessArgs()
	}
	settings := cfg.Settings
	if settings.Speed <= 0 {
		settings.Speed = 1
	}
	if settings.Pitch <= 0 {
		settings.Pitch = 1
	}

	e := &ProcessEngine{
		command:  cfg.Command,
		args:     args,
		run:      run,
		logger:   logger.With("component", "tts"),
		settings: settings,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go e.loop()
	return e
}

// Progress returns the utterance progress feed. Reports are published from the
// engine's worker goroutine.
func (e *ProcessEngine) Progress() *feed.Feed[Progress] { return &e.progress }

// Speak queues text under id. It returns immediately.
func (e *ProcessEngine) Speak(ctx context.Context, id, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrClosed
	}
	e.queue = append(e.queue, queued{id: id, text: text})
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush drops queued utterances and interrupts the one being spoken.
// Dropped utterances report nothing.
func (e *ProcessEngine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
	e.gen++
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// SetVoice applies to utterances started afterwards.
func (e *ProcessEngine) SetVoice(voice string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Voice = voice
	return nil
}

// SetSpeed applies to utterances started afterwards.
func (e *ProcessEngine) SetSpeed(speed float64) error {
	if speed <= 0 {
		return errors.Validationf("speed must be positive, got %v", speed)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Speed = speed
	return nil
}

// SetPitch applies to utterances started afterwards.
func (e *ProcessEngine) SetPitch(pitch float64) error {
	if pitch <= 0 {
		return errors.Validationf("pitch must be positive, got %v", pitch)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Pitch = pitch
	return nil
}

// Settings returns the current audio parameters.
func (e *ProcessEngine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Shutdown stops the worker and interrupts speech.
func (e *ProcessEngine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.Flush()
	close(e.done)
	return nil
}

func (e *ProcessEngine) loop() {
	for {
		u, ctx, gen, args, stdin, ok := e.next()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.done:
				return
			}
		}

		e.progress.Publish(Progress{UtteranceID: u.id, Kind: ProgressStart})

		var err error
		if strings.TrimSpace(u.text) != "" {
			err = e.run(ctx, e.command, args, stdin)
		}

		e.mu.Lock()
		stale := gen != e.gen
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.mu.Unlock()
		if stale {
			continue
		}

		if err != nil {
			e.logger.Warn("utterance failed", "utterance_id", u.id, "error", err)
			e.progress.Publish(Progress{UtteranceID: u.id, Kind: ProgressError, Err: err})
			continue
		}
		e.progress.Publish(Progress{UtteranceID: u.id, Kind: ProgressDone})
	}
}

func (e *ProcessEngine) next() (queued, context.Context, uint64, []string, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 || e.closed {
		return queued{}, nil, 0, nil, "", false
	}
	u := e.queue[0]
	e.queue = e.queue[1:]

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	args, stdin := expandArgs(e.args, e.settings, u.text)
	return u, ctx, e.gen, args, stdin, true
}

// expandArgs substitutes placeholders. The returned stdin is empty when the
// text was passed as an argument.
func expandArgs(tmpl []string, s Settings, text string) ([]string, string) {
	r := strings.NewReplacer(
		PlaceholderVoice, s.Voice,
		PlaceholderRate, strconv.Itoa(int(baseRate*s.Speed)),
		PlaceholderPitch, strconv.Itoa(int(50*s.Pitch)),
	)

	usesText := false
	args := make([]string, 0, len(tmpl))
	for _, a := range tmpl {
		if a == PlaceholderVoice && s.Voice == "" && len(args) > 0 && strings.HasPrefix(args[len(args)-1], "-") {
			// drop the flag that would precede an empty voice
			args = args[:len(args)-1]
			continue
		}
		a = r.Replace(a)
		if strings.Contains(a, PlaceholderText) {
			usesText = true
			a = strings.ReplaceAll(a, PlaceholderText, text)
		}
		args = append(args, a)
	}

	if usesText {
		return args, ""
	}
	return args, text
}
