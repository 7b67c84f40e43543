package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRunner_CompletesWithResult(t *testing.T) {
	job := NewJobRunner("test")
	assert.Equal(t, JobStatusIdle, job.Snapshot().Status)

	require.NoError(t, job.Start(func(ctx context.Context) (interface{}, error) {
		return map[string]int{"count": 3}, nil
	}))

	require.Eventually(t, func() bool {
		return job.Snapshot().Status == JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	snap := job.Snapshot()
	assert.NotNil(t, snap.Result)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.Empty(t, snap.Error)
}

func TestJobRunner_RecordsFailure(t *testing.T) {
	job := NewJobRunner("test")

	require.NoError(t, job.Start(func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream unavailable")
	}))

	require.Eventually(t, func() bool {
		return job.Snapshot().Status == JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "upstream unavailable", job.Snapshot().Error)
}

func TestJobRunner_RejectsConcurrentRuns(t *testing.T) {
	job := NewJobRunner("test")
	release := make(chan struct{})

	require.NoError(t, job.Start(func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}))

	err := job.Start(func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.Error(t, err)

	close(release)

	require.Eventually(t, func() bool {
		return job.Snapshot().Status == JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// a finished job can be restarted
	assert.NoError(t, job.Start(func(ctx context.Context) (interface{}, error) { return nil, nil }))
}
