package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aurawell/webhook-engine/internal/config"
)

func TestRetryDelay_FollowsTable(t *testing.T) {
	tests := []struct {
		attemptsMade int
		want         time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 5 * time.Minute},
		{2, 30 * time.Minute},
		{3, 2 * time.Hour},
		{4, 6 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryDelay(config.DefaultRetryDelays, tt.attemptsMade),
			"attemptsMade=%d", tt.attemptsMade)
	}
}

func TestRetryDelay_ClampsOutOfRange(t *testing.T) {
	assert.Equal(t, 6*time.Hour, RetryDelay(config.DefaultRetryDelays, 99))
	assert.Equal(t, 1*time.Minute, RetryDelay(config.DefaultRetryDelays, -1))
	assert.Equal(t, time.Duration(0), RetryDelay(nil, 3))
}
