package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// Init sets the global log level. Unknown levels fall back to info.
func Init(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)
}

// GetLogger returns the shared base logger as an entry
func GetLogger() *logrus.Entry {
	return logrus.NewEntry(base)
}

// WithComponent returns a logger tagged with the given component name
func WithComponent(component string) *logrus.Entry {
	return base.WithField("component", component)
}
