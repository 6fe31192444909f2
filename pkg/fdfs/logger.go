package fdfs

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the client logger; "off" or "none" silences it, unknown levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()

	switch strings.ToLower(level) {
	case "off", "none":
		logger.SetOutput(io.Discard)
	default:
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			parsed = logrus.InfoLevel
		}
		logger.SetLevel(parsed)
		logger.SetOutput(os.Stdout)
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	return logger
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
