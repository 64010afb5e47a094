package pkg

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"

	"github.com/frostyard/ibuild/pkg/types"
)

// Reporter is the coarse progress surface for a bootstrap run: one Step per
// pipeline stage, a final Complete with the run's result, and Error for the
// failure that ended a run. The fine-grained per-action narration goes
// through Messenger instead; Reporter is what a caller watching "how far
// along is it" consumes.
type Reporter interface {
	Step(step, total int, name string)
	Error(err error, message string)
	Complete(message string, details any)
}

// TextReporter writes human-readable stage banners to an io.Writer.
type TextReporter struct {
	w       io.Writer
	stepped bool // true after the first Step call
}

// NewTextReporter returns a TextReporter that writes to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Step(step, total int, name string) {
	if r.stepped {
		_, _ = fmt.Fprintln(r.w)
	}
	r.stepped = true
	_, _ = fmt.Fprintf(r.w, "Step %d/%d: %s...\n", step, total, name)
}

func (r *TextReporter) Error(err error, message string) {
	_, _ = fmt.Fprintf(r.w, "Error: %s: %v\n", message, err)
}

func (r *TextReporter) Complete(message string, _ any) {
	_, _ = fmt.Fprintln(r.w)
	_, _ = fmt.Fprintln(r.w, "=================================================================")
	_, _ = fmt.Fprintln(r.w, message)
	_, _ = fmt.Fprintln(r.w, "=================================================================")
}

// JSONReporter writes JSON Lines (one types.ProgressEvent per line) to an
// io.Writer. All writes are serialized with a mutex for thread safety.
type JSONReporter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONReporter returns a JSONReporter that writes to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{encoder: json.NewEncoder(w)}
}

func (r *JSONReporter) emit(event types.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = r.encoder.Encode(event)
}

func (r *JSONReporter) Step(step, total int, name string) {
	r.emit(types.ProgressEvent{
		Type:       types.EventTypeStep,
		Step:       step,
		TotalSteps: total,
		StepName:   name,
	})
}

func (r *JSONReporter) Error(err error, message string) {
	r.emit(types.ProgressEvent{
		Type:    types.EventTypeError,
		Message: message,
		Details: map[string]string{"error": err.Error()},
	})
}

func (r *JSONReporter) Complete(message string, details any) {
	r.emit(types.ProgressEvent{
		Type:    types.EventTypeComplete,
		Message: message,
		Details: details,
	})
}

// NoopReporter silently discards all output. Useful for tests and callers
// that only want the Messenger narration.
type NoopReporter struct{}

func (NoopReporter) Step(int, int, string) {}
func (NoopReporter) Error(error, string)   {}
func (NoopReporter) Complete(string, any)  {}

// ---------------------------------------------------------------------------
// Messenger
// ---------------------------------------------------------------------------

// Messenger is the narrower progress surface the bootstrap pipeline talks
// to. Where Reporter is stage-oriented for a caller watching overall
// progress, Messenger matches the flat log-as-you-go style of the
// bootstrap engine: plain info/warning/error lines, blank-line separators
// between pipeline phases, and an explicit hook for echoing the argv of
// every external command before it runs.
type Messenger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(err error, context string)
	InfoGap()
	AnnounceCommand(argv []string)
}

// TextMessenger writes human-readable lines to an io.Writer.
type TextMessenger struct {
	w io.Writer
}

// NewTextMessenger returns a TextMessenger that writes to w.
func NewTextMessenger(w io.Writer) *TextMessenger {
	return &TextMessenger{w: w}
}

func (m *TextMessenger) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(m.w, "I: %s\n", fmt.Sprintf(format, args...))
}

func (m *TextMessenger) Warn(format string, args ...any) {
	_, _ = fmt.Fprintf(m.w, "W: %s\n", fmt.Sprintf(format, args...))
}

func (m *TextMessenger) Error(err error, context string) {
	_, _ = fmt.Fprintf(m.w, "E: %s: %v\n", context, err)
}

func (m *TextMessenger) InfoGap() {
	_, _ = fmt.Fprintln(m.w)
}

func (m *TextMessenger) AnnounceCommand(argv []string) {
	_, _ = fmt.Fprintf(m.w, "+ %s\n", strings.Join(argv, " "))
}

// JSONMessenger emits one types.ProgressEvent per line on w.
type JSONMessenger struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewJSONMessenger returns a JSONMessenger that writes to w.
func NewJSONMessenger(w io.Writer) *JSONMessenger {
	return &JSONMessenger{encoder: json.NewEncoder(w)}
}

func (m *JSONMessenger) emit(event types.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = m.encoder.Encode(event)
}

func (m *JSONMessenger) Info(format string, args ...any) {
	m.emit(types.ProgressEvent{Type: types.EventTypeMessage, Message: fmt.Sprintf(format, args...)})
}

func (m *JSONMessenger) Warn(format string, args ...any) {
	m.emit(types.ProgressEvent{Type: types.EventTypeWarning, Message: fmt.Sprintf(format, args...)})
}

func (m *JSONMessenger) Error(err error, context string) {
	m.emit(types.ProgressEvent{
		Type:    types.EventTypeError,
		Message: context,
		Details: map[string]string{"error": err.Error()},
	})
}

func (m *JSONMessenger) InfoGap() {}

func (m *JSONMessenger) AnnounceCommand(argv []string) {
	m.emit(types.ProgressEvent{
		Type:    types.EventTypeMessage,
		Message: strings.Join(argv, " "),
		Details: map[string]any{"argv": argv},
	})
}

// NoopMessenger silently discards all output.
type NoopMessenger struct{}

func (NoopMessenger) Info(string, ...any)      {}
func (NoopMessenger) Warn(string, ...any)      {}
func (NoopMessenger) Error(error, string)      {}
func (NoopMessenger) InfoGap()                 {}
func (NoopMessenger) AnnounceCommand([]string) {}

// FormatSize renders a byte count the way Reporter.Complete-style summaries
// describe disk and partition sizes.
func FormatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
