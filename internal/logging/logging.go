package logging

import (
	"go.uber.org/zap"
)

// New builds the root logger. Debug switches to the development encoder
// with DebugLevel enabled.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
