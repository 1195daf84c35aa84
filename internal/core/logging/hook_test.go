package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHook_Run(t *testing.T) {
	tests := []struct {
		name       string
		setupCtx   func() context.Context
		wantKeys   []string
		wantAbsent []string
	}{
		{
			name: "worker and task",
			setupCtx: func() context.Context {
				return WithTaskID(WithWorkerID(context.Background(), "worker-a"), "t1")
			},
			wantKeys: []string{"worker_id", "task_id"},
		},
		{
			name: "worker only",
			setupCtx: func() context.Context {
				return WithWorkerID(context.Background(), "worker-a")
			},
			wantKeys:   []string{"worker_id"},
			wantAbsent: []string{"task_id"},
		},
		{
			name:       "empty context",
			setupCtx:   context.Background,
			wantAbsent: []string{"worker_id", "task_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Hook(ContextHook{})
			logger.Info().Ctx(tt.setupCtx()).Msg("test")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

			for _, key := range tt.wantKeys {
				assert.Contains(t, entry, key)
			}
			for _, key := range tt.wantAbsent {
				assert.NotContains(t, entry, key)
			}
		})
	}
}
