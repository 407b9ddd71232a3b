// Package logging provides the response core's structured logger,
// grounded on go.uber.org/zap, a dependency the teacher's go.mod
// already carries. It plays the role the teacher's own log package
// (log.NewModuleLogger, keyed "CMDKCN" etc. in cmd/kcn/main.go) would
// play here, simplified to a single process-wide logger since PISA has
// no per-subsystem module registry to key loggers by.
package logging

import "go.uber.org/zap"

// L is the process-wide structured logger. Production callers should
// leave it as the default production logger; tests may swap it for a
// zaptest logger via SetForTest.
var L = newDefault()

func newDefault() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder config,
		// which never happens with the default config it builds here.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// SetForTest replaces L for the duration of a test, restoring it via
// the returned func.
func SetForTest(l *zap.SugaredLogger) (restore func()) {
	prev := L
	L = l
	return func() { L = prev }
}
