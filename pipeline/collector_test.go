package pipeline

import (
	"errors"
	"testing"
	"time"

	proto "github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermesser/taskbroker/pipeline/pipelinepb"
	"github.com/dermesser/taskbroker/transport"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func startSignal(t *testing.T, size uint32) [][]byte {
	buf, err := proto.Marshal(&pipelinepb.BatchStart{BatchId: "b1", Size: size, ExpectedCostMs: 250})
	require.NoError(t, err)
	return [][]byte{MagicBatchStart, buf}
}

func ack() [][]byte { return [][]byte{{}} }

func TestCollectorCountsBatch(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var marks []byte
	c := NewCollector(3, withCollectorClock(clock.now), WithProgress(func(acks int, mark byte) {
		marks = append(marks, mark)
	}))

	done, err := c.Observe(startSignal(t, 3))
	require.NoError(t, err)
	require.False(t, done)

	for i := 0; i < 2; i++ {
		done, err = c.Observe(ack())
		require.NoError(t, err)
		require.False(t, done)
	}
	clock.t = clock.t.Add(1500 * time.Millisecond)
	done, err = c.Observe(ack())
	require.NoError(t, err)
	require.True(t, done)

	r := c.Report()
	assert.Equal(t, Report{BatchID: "b1", Acks: 3, Elapsed: 1500 * time.Millisecond, ExpectedCost: 250 * time.Millisecond}, r)
	assert.Equal(t, ":..", string(marks))

	_, err = c.Observe(ack())
	require.True(t, errors.Is(err, ErrBatchComplete))
	assert.Equal(t, 3, c.Report().Acks)
}

func TestCollectorRejectsEarlyAck(t *testing.T) {
	c := NewCollector(2)
	done, err := c.Observe(ack())
	require.False(t, done)
	require.True(t, transport.IsProtocolViolation(err))
	require.True(t, errors.Is(err, ErrAckBeforeStart))

	// still waiting for the start; the stray ack did not count
	_, err = c.Observe(startSignal(t, 2))
	require.NoError(t, err)
	_, err = c.Observe(ack())
	require.NoError(t, err)
	done, err = c.Observe(ack())
	require.NoError(t, err)
	require.True(t, done)
}

func TestCollectorRejectsBadMessages(t *testing.T) {
	c := NewCollector(1)
	_, err := c.Observe(startSignal(t, 1))
	require.NoError(t, err)

	_, err = c.Observe([][]byte{[]byte("result")})
	require.True(t, errors.Is(err, ErrNonEmptyAck))
	_, err = c.Observe([][]byte{{}, {}})
	require.True(t, errors.Is(err, ErrNonEmptyAck))
	_, err = c.Observe(startSignal(t, 1))
	require.True(t, errors.Is(err, ErrSecondStart))
	_, err = c.Observe([][]byte{MagicBatchStart, []byte{0xff, 0xff}})
	require.True(t, transport.IsProtocolViolation(err))

	done, err := c.Observe(ack())
	require.NoError(t, err)
	require.True(t, done)
}

func TestCollectorBatchSize(t *testing.T) {
	// announced size is used when none is configured
	c := NewCollector(0)
	_, err := c.Observe(startSignal(t, 2))
	require.NoError(t, err)
	c.Observe(ack())
	done, _ := c.Observe(ack())
	require.True(t, done)

	// the configured size wins
	c = NewCollector(1)
	_, err = c.Observe(startSignal(t, 5))
	require.NoError(t, err)
	done, _ = c.Observe(ack())
	require.True(t, done)

	// an empty batch is complete at once
	c = NewCollector(0)
	done, err = c.Observe(startSignal(t, 0))
	require.NoError(t, err)
	require.True(t, done)
}

func TestProgressMarks(t *testing.T) {
	var marks []byte
	c := NewCollector(21, WithProgress(func(_ int, mark byte) { marks = append(marks, mark) }))
	c.Observe(startSignal(t, 21))
	for i := 0; i < 21; i++ {
		c.Observe(ack())
	}
	assert.Equal(t, ":.........:.........:", string(marks))
}
