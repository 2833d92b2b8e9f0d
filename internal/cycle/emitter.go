package cycle

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level classifies a progress entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one progress line kept in the ring.
type Entry struct {
	At      time.Time
	Level   Level
	Message string
}

// Emitter receives run progress: a single mutable status line plus leveled
// log entries. Recent exposes the tail of the log for failure context.
type Emitter interface {
	Status(msg string)
	Log(level Level, msg string)
	Recent(n int) []Entry
}

// ringSize bounds how many entries an emitter retains.
const ringSize = 100

// LogEmitter writes entries to a zap logger and keeps the last ringSize of
// them in memory.
type LogEmitter struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries []Entry
	next    int
	filled  bool
	status  string
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{
		logger:  logger,
		entries: make([]Entry, ringSize),
	}
}

func (e *LogEmitter) Status(msg string) {
	e.mu.Lock()
	e.status = msg
	e.mu.Unlock()
	e.logger.Info(msg, zap.String("kind", "status"))
}

// CurrentStatus returns the latest status line.
func (e *LogEmitter) CurrentStatus() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *LogEmitter) Log(level Level, msg string) {
	e.mu.Lock()
	e.entries[e.next] = Entry{At: time.Now(), Level: level, Message: msg}
	e.next = (e.next + 1) % ringSize
	if e.next == 0 {
		e.filled = true
	}
	e.mu.Unlock()

	switch level {
	case LevelError:
		e.logger.Error(msg)
	case LevelWarning:
		e.logger.Warn(msg)
	default:
		e.logger.Info(msg, zap.String("level", string(level)))
	}
}

// Recent returns up to n newest entries, oldest first.
func (e *LogEmitter) Recent(n int) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	size, start := e.next, 0
	if e.filled {
		size, start = ringSize, e.next
	}
	if n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, e.entries[(start+i)%ringSize])
	}
	return out
}
