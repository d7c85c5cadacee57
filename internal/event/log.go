package event

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the shared logger for all internal packages.
var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	Log.SetLevel(logrus.InfoLevel)
}

// SetLevel parses a level name such as "debug" or "warn" and applies it to Log.
func SetLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	Log.SetLevel(level)
	return nil
}
