package slog

import (
	stdslog "log/slog"

	"github.com/unkn0wn-root/tagcache"
)

type SlogLogger struct{ L *stdslog.Logger }

func (s SlogLogger) Debug(msg string, f tagcache.Fields) { s.L.Debug(msg, args(f)...) }
func (s SlogLogger) Info(msg string, f tagcache.Fields)  { s.L.Info(msg, args(f)...) }
func (s SlogLogger) Warn(msg string, f tagcache.Fields)  { s.L.Warn(msg, args(f)...) }
func (s SlogLogger) Error(msg string, f tagcache.Fields) { s.L.Error(msg, args(f)...) }

func args(f tagcache.Fields) []any {
	if len(f) == 0 {
		return nil
	}
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
