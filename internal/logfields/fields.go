package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyJob        = "job"
	KeyChannel    = "channel"
	KeyPhase      = "phase"
	KeyStep       = "step"
	KeyCommand    = "command"
	KeyStatus     = "status"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyCacheKey   = "cache_key"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyDatabase   = "database"
	KeySchedule   = "schedule_name"
	KeyWorker     = "worker"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Job(name string) slog.Attr       { return slog.String(KeyJob, name) }
func Channel(c string) slog.Attr      { return slog.String(KeyChannel, c) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func Step(s string) slog.Attr         { return slog.String(KeyStep, s) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func ExitCode(c int) slog.Attr        { return slog.Int(KeyExitCode, c) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func CacheKey(k string) slog.Attr     { return slog.String(KeyCacheKey, k) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Database(d string) slog.Attr     { return slog.String(KeyDatabase, d) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Worker(w string) slog.Attr       { return slog.String(KeyWorker, w) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
