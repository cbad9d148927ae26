package log

import "github.com/sirupsen/logrus"

// BadgerLogger routes badger's internal logging through logrus.
// Badger is chatty at info level, so its info messages are demoted to debug.
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger creates a badger.Logger backed by entry
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry.WithField("component", "badgerdb")}
}

func (l *BadgerLogger) Errorf(f string, v ...interface{})   { l.entry.Errorf(f, v...) }
func (l *BadgerLogger) Warningf(f string, v ...interface{}) { l.entry.Warningf(f, v...) }
func (l *BadgerLogger) Infof(f string, v ...interface{})    { l.entry.Debugf(f, v...) }
func (l *BadgerLogger) Debugf(f string, v ...interface{})   { l.entry.Tracef(f, v...) }

// New builds the application logger from a level name such as "info" or "debug".
// Unknown levels fall back to info and are reported through the returned error.
func New(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		return logger, err
	}
	logger.SetLevel(parsed)
	return logger, nil
}
