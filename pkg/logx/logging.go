package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./mindfulbot.log"
)

// Field is one key/value attached to a log line.
type Field struct {
	key   string
	apply func(e *zerolog.Event)
}

func field(k string, fn func(e *zerolog.Event)) Field { return Field{key: k, apply: fn} }

func String(k, v string) Field   { return field(k, func(e *zerolog.Event) { e.Str(k, v) }) }
func Int(k string, v int) Field  { return field(k, func(e *zerolog.Event) { e.Int(k, v) }) }
func Int64(k string, v int64) Field {
	return field(k, func(e *zerolog.Event) { e.Int64(k, v) })
}
func Bool(k string, v bool) Field { return field(k, func(e *zerolog.Event) { e.Bool(k, v) }) }
func Duration(k string, v time.Duration) Field {
	return field(k, func(e *zerolog.Event) { e.Dur(k, v) })
}
func Time(k string, v time.Time) Field { return field(k, func(e *zerolog.Event) { e.Time(k, v) }) }
func Any(k string, v any) Field        { return field(k, func(e *zerolog.Event) { e.Interface(k, v) }) }

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return Field{}
	}
	return field(zerolog.ErrorFieldName, func(e *zerolog.Event) { e.Err(err) })
}

// Logger is a lightweight structured logger. A Logger obtained from Service
// follows Service.Apply calls. The zero value discards everything.
type Logger struct {
	svc     *Service
	base    zerolog.Logger
	hasBase bool

	fields []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	return Logger{base: zerolog.Nop(), hasBase: true}
}

// NewConsole creates a standalone console logger, used before the log
// service exists (config loading, adapter bootstrap, CLI subcommands).
func NewConsole(level string) Logger {
	setGlobals()
	return Logger{base: newZerolog(consoleWriter(os.Stdout), level), hasBase: true}
}

// NewWriter creates a standalone logger writing JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	setGlobals()
	return Logger{base: newZerolog(w, level), hasBase: true}
}

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasBase && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.hasBase:
		return l.base
	}
	return zerolog.Nop()
}

// Enabled reports whether the given level would be logged.
func (l Logger) Enabled(level Level) bool {
	return level >= l.zl().GetLevel()
}

// With returns a derived logger carrying fields on every line. A key already
// present is replaced, so re-tagging "comp" does not produce duplicates.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := make([]Field, 0, len(l.fields)+len(fields))
	for _, f := range l.fields {
		if !hasKey(fields, f.key) {
			out = append(out, f)
		}
	}
	for _, f := range fields {
		if f.apply != nil {
			out = append(out, f)
		}
	}
	cp := l
	cp.fields = out
	return cp
}

func hasKey(fields []Field, k string) bool {
	for _, f := range fields {
		if f.apply != nil && f.key == k {
			return true
		}
	}
	return false
}

func (l Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(zerolog.ErrorLevel, msg, fields) }

func (l Logger) write(level zerolog.Level, msg string, fields []Field) {
	z := l.zl()
	e := z.WithLevel(level)
	if e == nil {
		return
	}
	// skip: runtime.Caller, write, Debug/Info/...
	if c := caller(3); c != "" {
		e.Str(zerolog.CallerFieldName, c)
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f.apply != nil {
				f.apply(e)
			}
		}
	}
	e.Msg(msg)
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Service owns the process-wide sinks and lets config reloads swap them.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	cur      atomic.Pointer[zerolog.Logger]
	file     *os.File
	filePath string
}

// New creates the logging service, applies cfg and returns the root Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	boot := newZerolog(consoleWriter(os.Stdout), cfg.Level)
	s.cur.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.cur.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFileLocked()
}

func (s *Service) closeFileLocked() error {
	f := s.file
	s.file, s.filePath = nil, ""
	if f == nil {
		return nil
	}
	return f.Close()
}

// Apply swaps outputs and level at runtime. The log file is kept open when
// its path did not change. Safe to call concurrently with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f := s.openFileLocked(cfg.File.Path); f != nil {
			writers = append(writers, zerolog.SyncWriter(f))
		}
	} else {
		_ = s.closeFileLocked()
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := newZerolog(zerolog.MultiLevelWriter(writers...), cfg.Level)
	s.cur.Store(&zl)
}

func (s *Service) openFileLocked(path string) *os.File {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultFilePath
	}
	if s.file != nil && s.filePath == path {
		return s.file
	}
	_ = s.closeFileLocked()
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// The logger itself is what failed; stderr is all that is left.
		fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		return nil
	}
	s.file, s.filePath = f, path
	return f
}

func setGlobals() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

func newZerolog(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
