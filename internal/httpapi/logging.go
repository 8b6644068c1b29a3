package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("LEASED_HTTP_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLogger carries the logger and level resolved for one request.
type requestLogger struct {
	log   zerolog.Logger
	lvl   LogLevel
	r     *http.Request
	start time.Time
}

func newRequestLogger(log zerolog.Logger, r *http.Request) requestLogger {
	return requestLogger{log: log, lvl: requestLogLevel(r), r: r, start: time.Now()}
}

// end logs the request outcome. Errors are logged at LevelError and above,
// successes at LevelInfo and above.
func (rl requestLogger) end(status int, err error, fields map[string]any) {
	if rl.lvl == LevelOff || (err == nil && rl.lvl < LevelInfo) {
		return
	}
	z := rl.log.Info()
	if err != nil {
		z = rl.log.Warn().Err(err)
	}
	z = z.Str("path", rl.r.URL.Path).Int("status", status).Dur("dur", time.Since(rl.start))
	if rid := middleware.GetReqID(rl.r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Fields(fields).Msg("request end")
}

// loggingLineWriter logs complete NDJSON lines at debug level.
type loggingLineWriter struct {
	log    zerolog.Logger
	prefix string
	buf    []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(lw.buf[:idx])
		if len(line) > 0 {
			lw.log.Debug().Str("line", line).Msg(lw.prefix)
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}
