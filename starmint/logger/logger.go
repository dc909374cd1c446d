package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

type LogType string

const (
	TypeCommand LogType = "CMD"
	TypeDB      LogType = "DB"
	TypeHTTP    LogType = "HTTP"
	TypeSystem  LogType = "SYS"
	TypeError   LogType = "ERR"
)

// Options configures a Handler. A nil Writer means stdout.
type Options struct {
	Level   slog.Leveler
	Writer  io.Writer
	NoColor bool
}

// Handler prints one colored line per record:
//
//	[starmint] [15:04:05] [INFO] [SYS] message [Status: ok] key=value
type Handler struct {
	level   slog.Leveler
	out     io.Writer
	mu      *sync.Mutex
	noColor bool
	attrs   []slog.Attr
	groups  []string
}

func NewHandler(opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Handler{
		level:   opts.Level,
		out:     opts.Writer,
		mu:      &sync.Mutex{},
		noColor: opts.NoColor,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var levelColor, levelText string
	switch {
	case r.Level >= slog.LevelError:
		levelColor, levelText = colorRed, "ERROR"
	case r.Level >= slog.LevelWarn:
		levelColor, levelText = colorYellow, "WARN"
	case r.Level >= slog.LevelInfo:
		levelColor, levelText = colorGreen, "INFO"
	default:
		levelColor, levelText = colorPurple, "DEBUG"
	}

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	logType := TypeSystem
	var status, errDetails, errLocation, component string
	var rest strings.Builder
	for _, a := range attrs {
		switch a.Key {
		case "type":
			logType = parseType(a.Value.String())
		case "status":
			status = a.Value.String()
		case "component":
			component = a.Value.String()
		case "error":
			errDetails = a.Value.String()
		case "error_location":
			errLocation = a.Value.String()
		default:
			key := a.Key
			if len(h.groups) > 0 {
				key = strings.Join(h.groups, ".") + "." + key
			}
			fmt.Fprintf(&rest, " %s=%v", key, a.Value)
		}
	}

	message := r.Message
	if component != "" {
		message = fmt.Sprintf("%s: %s", component, message)
	}
	if r.Level >= slog.LevelError {
		if errLocation == "" {
			errLocation = sourceLocation(r.PC)
		}
		if errLocation != "" {
			message = fmt.Sprintf("%s (%s)", message, errLocation)
		}
	}
	if errDetails != "" {
		message = fmt.Sprintf("%s: %s", message, errDetails)
	}
	if status != "" {
		message = fmt.Sprintf("%s [Status: %s]", message, status)
	}

	timestamp := r.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	white, reset, cyan := colorWhite, colorReset, colorCyan
	if h.noColor {
		white, reset, cyan, levelColor = "", "", "", ""
	}
	line := fmt.Sprintf("%s[starmint] [%s] [%s%s%s] [%s%s%s] %s%s%s\n",
		white,
		timestamp.Format("15:04:05"),
		levelColor, levelText, white,
		cyan, logType, white,
		message,
		rest.String(),
		reset,
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func parseType(v string) LogType {
	switch v {
	case "cmd":
		return TypeCommand
	case "db":
		return TypeDB
	case "http":
		return TypeHTTP
	case "error":
		return TypeError
	}
	return TypeSystem
}

func sourceLocation(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
