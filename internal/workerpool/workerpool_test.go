package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainverify/verifyd/internal/codederr"
)

func TestSubmitAndWaitReturnsHandlerValue(t *testing.T) {
	p := New(&Config{NumWorkers: 2, QueueSize: 8, TaskTimeout: time.Second}, func(ctx context.Context, task *Task) (any, error) {
		return "ok:" + string(task.Kind), nil
	}, nil)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitAndWait(context.Background(), &Task{JobID: "j1", Kind: TaskFromJSONInput})
	require.NoError(t, err)
	assert.Equal(t, "j1", res.JobID)
	assert.Equal(t, "ok:fromJsonInput", res.Value)
	assert.NoError(t, res.Err)
}

func TestSubmitAndWaitWrapsPlainErrorAsCoded(t *testing.T) {
	p := New(DefaultConfig(), func(ctx context.Context, task *Task) (any, error) {
		return nil, errors.New("boom")
	}, nil)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitAndWait(context.Background(), &Task{JobID: "j2"})
	require.NoError(t, err)
	require.Error(t, res.Err)
	var coded codederr.CodedError
	require.ErrorAs(t, res.Err, &coded)
	assert.Equal(t, codederr.CodeInternalError, coded.Code())
}

func TestSubmitAndWaitPreservesCodedError(t *testing.T) {
	p := New(DefaultConfig(), func(ctx context.Context, task *Task) (any, error) {
		return nil, codederr.New(codederr.CodeBytecodeMismatch, "nope", nil)
	}, nil)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitAndWait(context.Background(), &Task{JobID: "j3"})
	require.NoError(t, err)
	var coded codederr.CodedError
	require.ErrorAs(t, res.Err, &coded)
	assert.Equal(t, codederr.CodeBytecodeMismatch, coded.Code())
}

func TestHandlerPanicRecoversAsInternalError(t *testing.T) {
	p := New(DefaultConfig(), func(ctx context.Context, task *Task) (any, error) {
		panic("handler exploded")
	}, nil)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitAndWait(context.Background(), &Task{JobID: "j4"})
	require.NoError(t, err)
	var coded codederr.CodedError
	require.ErrorAs(t, res.Err, &coded)
	assert.Equal(t, codederr.CodeInternalError, coded.Code())
}

func TestSubmitAndWaitRespectsCallerContextCancellation(t *testing.T) {
	block := make(chan struct{})
	p := New(&Config{NumWorkers: 1, QueueSize: 1, TaskTimeout: 0}, func(ctx context.Context, task *Task) (any, error) {
		<-block
		return nil, nil
	}, nil)
	p.Start()
	defer func() { close(block); p.Stop() }()

	// occupy the only worker
	go p.SubmitAndWait(context.Background(), &Task{JobID: "occupy"})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.SubmitAndWait(ctx, &Task{JobID: "j5"})
	require.Error(t, err)
}

func TestStatsTracksCounts(t *testing.T) {
	p := New(DefaultConfig(), func(ctx context.Context, task *Task) (any, error) {
		return nil, nil
	}, nil)
	p.Start()
	defer p.Stop()

	_, _ = p.SubmitAndWait(context.Background(), &Task{JobID: "s1"})
	_, _ = p.SubmitAndWait(context.Background(), &Task{JobID: "s2"})

	total, success, failed, _ := p.Stats()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), success)
	assert.Equal(t, int64(0), failed)
}
