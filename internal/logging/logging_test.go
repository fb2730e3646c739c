package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env     string
		debugOn bool
		infoOn  bool
	}{
		{"production", false, true},
		{"development", true, true},
		{"", true, true},
		{"test", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			core := New(tt.env).Desugar().Core()
			assert.Equal(t, tt.debugOn, core.Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.infoOn, core.Enabled(zapcore.InfoLevel))
		})
	}
}
