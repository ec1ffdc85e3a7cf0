package callengine

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging applies the logging options to the global logrus
// logger: level, full-timestamp text format, and optional rotating file
// output alongside stdout.
func ConfigureLogging(opts Options) error {
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if opts.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.LogMaxSizeMB,
			MaxBackups: opts.LogMaxBackups,
			MaxAge:     opts.LogMaxAgeDays,
			Compress:   true,
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotating))
	}
	return nil
}
