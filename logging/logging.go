package logging

import (
	logging "github.com/textileio/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetLogLevels sets levels for the given systems.
//
// The "*" system applies its level to every subsystem registered so far.
// Map iteration order is random, so combining "*" with specific systems in a
// single call gives no ordering guarantee; use separate calls instead.
func SetLogLevels(systems map[string]logging.LogLevel) error {
	for sys, level := range systems {
		l := zapcore.Level(level)
		if sys == "*" {
			for _, s := range logging.GetSubsystems() {
				if err := logging.SetLogLevel(s, l.CapitalString()); err != nil {
					return err
				}
			}
			continue
		}
		if err := logging.SetLogLevel(sys, l.CapitalString()); err != nil {
			return err
		}
	}
	return nil
}
