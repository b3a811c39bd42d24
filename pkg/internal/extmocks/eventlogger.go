package extmocks

import (
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/mock"
)

// MockEventLogger is a testify mock of [logging.EventLogger]. Expectations are
// set with the format string (if any) followed by the arguments.
type MockEventLogger struct {
	mock.Mock
}

var _ logging.EventLogger = (*MockEventLogger)(nil)

// NewMockEventLogger creates a mock logger whose expectations are asserted
// when the test finishes.
func NewMockEventLogger(t *testing.T) *MockEventLogger {
	m := &MockEventLogger{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockEventLogger) called(method string, args ...any) {
	m.MethodCalled(method, args...)
}

func (m *MockEventLogger) calledf(method string, format string, args ...any) {
	m.MethodCalled(method, append([]any{format}, args...)...)
}

func (m *MockEventLogger) Debug(args ...any)                 { m.called("Debug", args...) }
func (m *MockEventLogger) Debugf(format string, args ...any) { m.calledf("Debugf", format, args...) }
func (m *MockEventLogger) Info(args ...any)                  { m.called("Info", args...) }
func (m *MockEventLogger) Infof(format string, args ...any)  { m.calledf("Infof", format, args...) }
func (m *MockEventLogger) Warn(args ...any)                  { m.called("Warn", args...) }
func (m *MockEventLogger) Warnf(format string, args ...any)  { m.calledf("Warnf", format, args...) }
func (m *MockEventLogger) Error(args ...any)                 { m.called("Error", args...) }
func (m *MockEventLogger) Errorf(format string, args ...any) { m.calledf("Errorf", format, args...) }
func (m *MockEventLogger) Panic(args ...any)                 { m.called("Panic", args...) }
func (m *MockEventLogger) Panicf(format string, args ...any) { m.calledf("Panicf", format, args...) }
func (m *MockEventLogger) Fatal(args ...any)                 { m.called("Fatal", args...) }
func (m *MockEventLogger) Fatalf(format string, args ...any) { m.calledf("Fatalf", format, args...) }
