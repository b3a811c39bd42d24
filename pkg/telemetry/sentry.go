package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	logging "github.com/ipfs/go-log/v2"

	"github.com/storacha/freeway/pkg/build"
)

type SentryExceptionCaptureFunc func(err error) *sentry.EventID

// SentryLogger forwards error, panic and fatal logs to Sentry when the
// subsystem is configured to emit them.
type SentryLogger struct {
	system           string
	log              logging.EventLogger
	captureException SentryExceptionCaptureFunc
}

var _ logging.StandardLogger = (*SentryLogger)(nil)

func (s *SentryLogger) capture(level logging.LogLevel, err error) {
	if getLevel(s.system) <= level {
		s.captureException(err)
	}
}

func (s *SentryLogger) Debug(args ...any) {
	s.log.Debug(args...)
}

func (s *SentryLogger) Debugf(format string, args ...any) {
	s.log.Debugf(format, args...)
}

func (s *SentryLogger) Info(args ...any) {
	s.log.Info(args...)
}

func (s *SentryLogger) Infof(format string, args ...any) {
	s.log.Infof(format, args...)
}

func (s *SentryLogger) Warn(args ...any) {
	s.log.Warn(args...)
}

func (s *SentryLogger) Warnf(format string, args ...any) {
	s.log.Warnf(format, args...)
}

func (s *SentryLogger) Error(args ...any) {
	s.capture(logging.LevelError, fmt.Errorf(formatString(len(args)), args...))
	s.log.Error(args...)
}

func (s *SentryLogger) Errorf(format string, args ...any) {
	s.capture(logging.LevelError, fmt.Errorf(format, args...))
	s.log.Errorf(format, args...)
}

func (s *SentryLogger) Panic(args ...any) {
	s.capture(logging.LevelPanic, fmt.Errorf(formatString(len(args)), args...))
	s.log.Panic(args...)
}

func (s *SentryLogger) Panicf(format string, args ...any) {
	s.capture(logging.LevelPanic, fmt.Errorf(format, args...))
	s.log.Panicf(format, args...)
}

func (s *SentryLogger) Fatal(args ...any) {
	s.capture(logging.LevelFatal, fmt.Errorf(formatString(len(args)), args...))
	s.log.Fatal(args...)
}

func (s *SentryLogger) Fatalf(format string, args ...any) {
	s.capture(logging.LevelFatal, fmt.Errorf(format, args...))
	s.log.Fatalf(format, args...)
}

// NewSentryLogger returns a logger for the subsystem that sends error, panic
// and fatal logs to Sentry.
//
// Note: call [InitSentry] before using the returned logger.
func NewSentryLogger(system string) *SentryLogger {
	return &SentryLogger{
		system:           system,
		log:              logging.Logger(system),
		captureException: sentry.CaptureException,
	}
}

// InitSentry initializes the Sentry client, tagging events with the build
// version. It returns a function that flushes buffered events.
func InitSentry(dsn, environment string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     build.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// formatString gets a format string for the specified number of arguments.
func formatString(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat(" %+v", n)[1:]
}

// getLevel gets the configured log level for the passed subsystem.
func getLevel(system string) logging.LogLevel {
	cfg := logging.GetConfig()
	lvl, ok := cfg.SubsystemLevels[system]
	if !ok {
		return cfg.Level
	}
	return lvl
}
