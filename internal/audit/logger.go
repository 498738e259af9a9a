// Package audit records security-relevant events as JSON lines.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event is the decoded form of one audit line.
type Event struct {
	At      string `json:"at"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Logger appends events to a file. A nil Logger discards everything.
type Logger struct {
	file *os.File
	log  *zap.Logger
}

func NewLogger(path string) (*Logger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:    "at",
		MessageKey: "action",
		EncodeTime: zapcore.RFC3339TimeEncoder,
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(f), zapcore.InfoLevel)
	return &Logger{file: f, log: zap.New(core)}, nil
}

func (l *Logger) Log(actor, action, target, outcome, detail string) {
	if l == nil {
		return
	}
	fields := []zap.Field{zap.String("actor", actor)}
	if target != "" {
		fields = append(fields, zap.String("target", target))
	}
	fields = append(fields, zap.String("outcome", outcome))
	if detail != "" {
		fields = append(fields, zap.String("detail", detail))
	}
	l.log.Info(action, fields...)
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.log.Sync()
	return l.file.Close()
}
