// Package asynclog implements the process-wide log sink: records are
// formatted with go.uber.org/zap's structured core, optionally enqueued
// through a taskqueue.Queue, and drained by a single dedicated goroutine
// that owns the destination file exclusively. Rotation keys off both
// wall-clock day rollover and line count; purely time-based rotators
// can't express the line-count trigger, so the rotating writer below is
// hand-written.
package asynclog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xtaci/goreactor/internal/taskqueue"
)

// Level is the DEBUG/INFO/WARN/ERROR ladder.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxLines is the default line-count rotation threshold; tests override
// it via SetMaxLines rather than writing 50,000 lines.
const MaxLines = 50_000

// Logger is an injectable handle around the async sink. A process can
// still keep one as a package-level singleton if it wants the classic
// logging-library ergonomics; nothing here requires it.
type Logger struct {
	level    Level
	dir      string
	suffix   string
	maxLines int

	encoder zapcore.Encoder

	queue *taskqueue.Queue // nil => synchronous writes under mu

	mu       sync.Mutex
	file     *os.File
	day      string
	seq      int
	lineCnt  int

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Init creates the log directory if needed and, when queueCap>0, starts the
// dedicated drainer goroutine. queueCap==0 means every Write call formats
// and appends synchronously under Logger's own mutex.
func Init(level Level, dir, suffix string, queueCap int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("asynclog: mkdir %s: %w", dir, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	l := &Logger{
		level:    level,
		dir:      dir,
		suffix:   suffix,
		maxLines: MaxLines,
		encoder:  zapcore.NewConsoleEncoder(encCfg),
	}
	if err := l.rotateIfNeeded(true); err != nil {
		return nil, err
	}
	if queueCap > 0 {
		l.queue = taskqueue.New(queueCap)
		l.wg.Add(1)
		go l.drainLoop()
	}
	return l, nil
}

// SetMaxLines overrides the rotation line threshold; used by tests.
func (l *Logger) SetMaxLines(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxLines = n
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Write formats level+format+args into a timestamped, level-tagged line via
// zap's console encoder and either enqueues it (async mode) or appends it
// synchronously. Writes below the configured level are elided entirely,
// without formatting.
func (l *Logger) Write(level Level, format string, args ...interface{}) {
	if level < l.level || l.closed.Load() {
		return
	}
	entry := zapcore.Entry{
		Level:   level.zapLevel(),
		Time:    time.Now(),
		Message: fmt.Sprintf(format, args...),
	}
	buf, err := l.encoder.EncodeEntry(entry, nil)
	if err != nil {
		return
	}
	line := buf.String()
	buf.Free()

	if l.queue == nil {
		l.mu.Lock()
		l.appendLocked(line)
		l.mu.Unlock()
		return
	}
	_ = l.queue.PushBack(line)
}

func (l *Logger) drainLoop() {
	defer l.wg.Done()
	for {
		item, err := l.queue.PopFront()
		if err != nil {
			return
		}
		line := item.(string)
		l.mu.Lock()
		l.appendLocked(line)
		l.mu.Unlock()
	}
}

// appendLocked must be called with l.mu held; it rotates if necessary and
// writes one formatted line to the current file.
func (l *Logger) appendLocked(line string) {
	if err := l.rotateIfNeededLocked(false); err != nil {
		return
	}
	if l.file == nil {
		return
	}
	_, _ = l.file.WriteString(line)
	l.lineCnt++
}

func (l *Logger) rotateIfNeeded(initial bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateIfNeededLocked(initial)
}

// rotateIfNeededLocked opens a new file when the local day has changed or
// the current file has reached maxLines, naming it "{dir}/YYYY_MM_DD{suffix}"
// and, on same-day rollover, appending "_N" before the suffix.
func (l *Logger) rotateIfNeededLocked(initial bool) error {
	today := time.Now().Format("2006_01_02")

	needsRotate := initial || l.file == nil
	if today != l.day {
		needsRotate = true
		l.seq = 0
	} else if l.lineCnt >= l.maxLines {
		needsRotate = true
		l.seq++
	}
	if !needsRotate {
		return nil
	}

	if l.file != nil {
		_ = l.file.Close()
	}

	name := today + l.suffix
	if l.seq > 0 {
		name = fmt.Sprintf("%s_%d%s", today, l.seq, l.suffix)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("asynclog: open %s: %w", name, err)
	}
	l.file = f
	l.day = today
	l.lineCnt = 0
	return nil
}

// Close stops the drainer (if any) and closes the current file, waiting
// for any queued records to flush first. Setting closed before Queue.Close
// stops new records from being enqueued; waiting for the queue to empty
// before discarding it is what keeps taskqueue.Queue.Close's "drains items"
// semantics (which simply throws away whatever is still queued) from
// silently dropping lines written just before shutdown.
func (l *Logger) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}

	if l.queue != nil {
		for l.queue.Size() > 0 {
			runtime.Gosched()
		}
		l.queue.Close()
		l.wg.Wait()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.Write(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Write(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Write(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Write(Error, format, args...) }
