// Package testutil provides shared test helpers for wolo packages.
package testutil

import "go.uber.org/zap"

// Logger returns a development Zap logger that only emits warnings and above.
// Panics on construction failure (should never happen in tests).
func Logger() *zap.Logger {
	l, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		panic("testutil.Logger: " + err.Error())
	}
	return l
}
