package pipelinepb

import (
	"testing"

	proto "github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/require"
)

func TestTaskWireFormat(t *testing.T) {
	buf, err := proto.Marshal(&Task{BatchId: "b", Seq: 1, WorkloadMs: 300})
	require.NoError(t, err)
	// field 1 "b", field 2 varint 1, field 3 varint 300
	require.Equal(t, []byte{0x0a, 0x01, 'b', 0x10, 0x01, 0x18, 0xac, 0x02}, buf)

	var got Task
	require.NoError(t, proto.Unmarshal(buf, &got))
	require.Equal(t, uint32(300), got.GetWorkloadMs())
}

func TestNilGetters(t *testing.T) {
	var s *BatchStart
	require.Equal(t, uint32(0), s.GetSize())
	require.Equal(t, "", s.GetBatchId())
}
