package logging

import (
	"context"
	"fmt"
	"strings"
)

// PrintfLogger adapts a Logger to the Printf/Fatalf shape that libraries
// such as goose accept. Printf lines are logged at debug level.
type PrintfLogger struct {
	ctx context.Context
	l   Logger
}

func NewPrintfLogger(ctx context.Context, l Logger) *PrintfLogger {
	return &PrintfLogger{ctx: ctx, l: l}
}

func (p *PrintfLogger) Printf(format string, v ...any) {
	p.l.Debug(p.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level and panics, since callers assume it never returns.
func (p *PrintfLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	p.l.Error(p.ctx, msg)
	panic(msg)
}
