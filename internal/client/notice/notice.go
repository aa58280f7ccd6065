// Package notice carries transient user-facing messages (toasts) from the sync core to
// whatever renders them.
package notice

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notice struct {
	Level Level
	Text  string
}

// Sink receives notices. Implementations must not call back into the component that
// emitted the notice; they are invoked while that component holds its lock.
type Sink interface {
	Notify(Notice)
}

type SinkFunc func(Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})

func Info(text string) Notice    { return Notice{Level: LevelInfo, Text: text} }
func Success(text string) Notice { return Notice{Level: LevelSuccess, Text: text} }
func Error(text string) Notice   { return Notice{Level: LevelError, Text: text} }
