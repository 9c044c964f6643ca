// Message types for pipeline.proto. Marshalling goes through the struct tags.

package pipelinepb

import (
	proto "github.com/gogo/protobuf/proto"
)

// This is a compile-time assertion to ensure that this file is compatible
// with the proto package it is being compiled against.
const _ = proto.GoGoProtoPackageIsVersion2

type BatchStart struct {
	BatchId        string `protobuf:"bytes,1,opt,name=batch_id,json=batchId,proto3" json:"batch_id,omitempty"`
	Size           uint32 `protobuf:"varint,2,opt,name=size,proto3" json:"size,omitempty"`
	ExpectedCostMs uint64 `protobuf:"varint,3,opt,name=expected_cost_ms,json=expectedCostMs,proto3" json:"expected_cost_ms,omitempty"`
}

func (m *BatchStart) Reset()         { *m = BatchStart{} }
func (m *BatchStart) String() string { return proto.CompactTextString(m) }
func (*BatchStart) ProtoMessage()    {}

func (m *BatchStart) GetBatchId() string {
	if m != nil {
		return m.BatchId
	}
	return ""
}

func (m *BatchStart) GetSize() uint32 {
	if m != nil {
		return m.Size
	}
	return 0
}

func (m *BatchStart) GetExpectedCostMs() uint64 {
	if m != nil {
		return m.ExpectedCostMs
	}
	return 0
}

type Task struct {
	BatchId    string `protobuf:"bytes,1,opt,name=batch_id,json=batchId,proto3" json:"batch_id,omitempty"`
	Seq        uint32 `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	WorkloadMs uint32 `protobuf:"varint,3,opt,name=workload_ms,json=workloadMs,proto3" json:"workload_ms,omitempty"`
}

func (m *Task) Reset()         { *m = Task{} }
func (m *Task) String() string { return proto.CompactTextString(m) }
func (*Task) ProtoMessage()    {}

func (m *Task) GetBatchId() string {
	if m != nil {
		return m.BatchId
	}
	return ""
}

func (m *Task) GetSeq() uint32 {
	if m != nil {
		return m.Seq
	}
	return 0
}

func (m *Task) GetWorkloadMs() uint32 {
	if m != nil {
		return m.WorkloadMs
	}
	return 0
}

func init() {
	proto.RegisterType((*BatchStart)(nil), "pipelinepb.BatchStart")
	proto.RegisterType((*Task)(nil), "pipelinepb.Task")
}
