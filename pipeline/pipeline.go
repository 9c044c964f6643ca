/*
Package pipeline is the fan-out/fan-in variant of task distribution.

A Producer hands a batch of independent tasks to whichever pipeline Worker
pulls next, after telling the Collector that a batch starts. Workers
acknowledge every finished task to the Collector with one empty frame. The
Collector counts acknowledgements until the batch is complete and reports the
wall-clock time since the start signal.

Wire format:

	producer -> collector: [MagicBatchStart, BatchStart]
	producer -> worker:    [Task]
	worker   -> collector: [""]

with BatchStart and Task protobuf-encoded (see pipelinepb).
*/
package pipeline

import (
	"bytes"
	"errors"
)

// MagicBatchStart is the first frame of the batch start signal.
var MagicBatchStart = []byte("___BaTcHsTaRt___")

var (
	ErrAckBeforeStart = errors.New("acknowledgement before batch start")
	ErrNonEmptyAck    = errors.New("acknowledgement is not one empty frame")
	ErrSecondStart    = errors.New("batch start while a batch is running")
	ErrBatchComplete  = errors.New("message after batch completion")
)

func isBatchStart(frames [][]byte) bool {
	return len(frames) == 2 && bytes.Equal(frames[0], MagicBatchStart)
}

func isAck(frames [][]byte) bool {
	return len(frames) == 1 && len(frames[0]) == 0
}
