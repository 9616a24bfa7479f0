package dice

import "go.uber.org/zap"

// LoggedSource wraps a Source and logs every draw at debug level.
type LoggedSource struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedSource creates a Source that draws from src and logs each draw to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedSource(src Source, logger *zap.Logger) *LoggedSource {
	return &LoggedSource{src: src, logger: logger}
}

// Intn draws from the wrapped Source and logs the bound and the result.
func (l *LoggedSource) Intn(n int) int {
	v := l.src.Intn(n)
	l.logger.Debug("random draw",
		zap.Int("n", n),
		zap.Int("value", v),
	)
	return v
}
