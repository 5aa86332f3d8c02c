package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 */

// Logger is the subset of pkg/elog's Logger interface this package needs for
// lifecycle diagnostics (writer create, finalize and abort; reader open).
// It is declared locally, rather than imported from pkg/elog, so this codec
// has no hard dependency on a particular logging implementation -- any type
// satisfying these three methods, *elog.CLI included, can be passed to
// WithLogger/WithReaderLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
