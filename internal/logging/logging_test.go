package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig(), wantErr: false},
		{name: "console format", cfg: Config{Level: "debug", Format: "console"}, wantErr: false},
		{name: "bad level", cfg: Config{Level: "chatty", Format: "json"}, wantErr: true},
		{name: "bad format", cfg: Config{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("constructed")

	_, err = New(Config{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
