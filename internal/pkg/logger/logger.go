// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// base 是进程级别的根 logger，由 Init 初始化
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局 logger。
// pretty 为 true 时使用控制台格式输出，便于本地调试。
func Init(serviceName, level string, pretty bool) {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	base = zerolog.New(w).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个携带链路信息的 logger。
// 如果 ctx 中存在有效的 Span，会自动附加 trace_id 和 span_id。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := base
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			l = l.With().
				Str("trace_id", sc.TraceID().String()).
				Str("span_id", sc.SpanID().String()).
				Logger()
		}
	}
	return &l
}

// L 返回不带上下文的根 logger
func L() *zerolog.Logger {
	return &base
}

// SetOutput 替换输出目标，测试中用于捕获日志
func SetOutput(w io.Writer) {
	base = base.Output(w)
}
