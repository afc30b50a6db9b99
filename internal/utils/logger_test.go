package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantLevel     logrus.Level
		wantJSON      bool
	}{
		{"debug", "text", logrus.DebugLevel, false},
		{"WARN", "JSON", logrus.WarnLevel, true},
		{"nonsense", "", logrus.InfoLevel, false},
	}

	for _, tt := range tests {
		logger := NewLogger(tt.level, tt.format)
		assert.Equal(t, tt.wantLevel, logger.GetLevel(), tt.level)
		_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
		assert.Equal(t, tt.wantJSON, isJSON, tt.format)
	}
}
