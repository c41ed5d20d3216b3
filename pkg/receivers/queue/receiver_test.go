package queue

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReceiver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid_config",
			config: Config{
				Addr:  "localhost:6379",
				Queue: "deskflow_events",
			},
			expectError: false,
		},
		{
			name: "missing_queue",
			config: Config{
				Addr: "localhost:6379",
			},
			expectError: true,
			errorMsg:    "queue receiver requires a queue name",
		},
		{
			name: "defaults_addr",
			config: Config{
				Queue: "deskflow_events",
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receiver, err := NewReceiver(tt.config, nil, logger)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)

				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, receiver.config.Addr)
		})
	}
}
