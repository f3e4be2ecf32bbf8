// Package tts is the speech synthesis boundary of the reader: progress events
// and a process-backed engine that speaks one utterance at a time.
package tts

// ProgressKind is the kind of a progress report.
type ProgressKind string

// Progress kinds.
const (
	ProgressStart ProgressKind = "start"
	ProgressDone  ProgressKind = "done"
	ProgressError ProgressKind = "error"
)

// Progress reports the state of a queued utterance.
type Progress struct {
	UtteranceID string
	Kind        ProgressKind
	Err         error
}

// Settings are the audio parameters applied to every utterance.
type Settings struct {
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
}

// DefaultSettings returns neutral speed and pitch with the engine's default voice.
func DefaultSettings() Settings {
	return Settings{Speed: 1, Pitch: 1}
}
