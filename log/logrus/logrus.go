package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/tagcache"
)

type LogrusLogger struct{ L *logrus.Logger }

func (l LogrusLogger) Debug(msg string, f tagcache.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f tagcache.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f tagcache.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f tagcache.Fields) { l.entry(f).Error(msg) }

func (l LogrusLogger) entry(f tagcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return logrus.NewEntry(l.L)
	}
	return l.L.WithFields(logrus.Fields(f))
}
