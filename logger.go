package lowka

import (
	"os"

	"github.com/sirupsen/logrus"
)

// StdLogger is the interface the package-level Logger must satisfy. It is
// intentionally small (Print/Printf/Println) so that both *log.Logger and
// *logrus.Logger - or any other host-supplied logger - can be dropped in
// without an adapter.
type StdLogger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// Logger is used by every component in this package to emit diagnostics. It
// defaults to a logrus logger writing to stderr at Info level; swap it
// before constructing any Producer if a host-specific logger is desired.
var Logger StdLogger = newDefaultLogger()

func newDefaultLogger() StdLogger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Level = logrus.InfoLevel
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	return l
}

// withFields returns a printf-style function that logs with
// topic/partition/broker/correlation context attached as logrus fields when
// Logger is a *logrus.Logger. When the host has replaced Logger with a plain
// StdLogger that does not support fields, it degrades to formatting the
// context inline.
func withFields(topic string, partition int32, broker string, correlationID int32) func(format string, args ...interface{}) {
	if entry, ok := Logger.(*logrus.Logger); ok {
		fields := entry.WithFields(logrus.Fields{
			"topic":         topic,
			"partition":     partition,
			"broker":        broker,
			"correlationId": correlationID,
		})
		return func(format string, args ...interface{}) {
			fields.Printf(format, args...)
		}
	}
	return func(format string, args ...interface{}) {
		Logger.Printf("topic=%s partition=%d broker=%s correlationId=%d "+format,
			append([]interface{}{topic, partition, broker, correlationID}, args...)...)
	}
}
