// Copyright 2025 Joseph Cumines
//
// In-memory long-running operations for audit runs

package server

import (
	"context"
	"sync"
	"time"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/google/uuid"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// auditOperationPrefix names operations created by StartAudit.
const auditOperationPrefix = "operations/audits-"

// OperationStore keeps audit operations for the process lifetime.
type OperationStore struct {
	now     func() time.Time
	ops     map[string]*longrunningpb.Operation
	pending []string
	mu      sync.Mutex
}

// NewOperationStore returns an empty store.
func NewOperationStore() *OperationStore {
	return &OperationStore{
		now: time.Now,
		ops: make(map[string]*longrunningpb.Operation),
	}
}

// StartAudit records a new pending audit operation.
func (s *OperationStore) StartAudit() (*longrunningpb.Operation, error) {
	metadata, err := anypb.New(timestamppb.New(s.now()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to pack operation metadata: %v", err)
	}
	op := &longrunningpb.Operation{
		Name:     auditOperationPrefix + uuid.NewString(),
		Metadata: metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.Name] = op
	s.pending = append(s.pending, op.Name)
	return proto.Clone(op).(*longrunningpb.Operation), nil
}

// FinishAudit completes the newest pending operation with report, or with
// cause when it is non-nil. It reports NotFound when nothing is pending.
func (s *OperationStore) FinishAudit(report *structpb.Value, cause error) (*longrunningpb.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, status.Error(codes.NotFound, "no audit is running, call startAudits first")
	}
	name := s.pending[len(s.pending)-1]
	s.pending = s.pending[:len(s.pending)-1]
	op := s.ops[name]

	op.Done = true
	if cause != nil {
		st := status.Convert(cause).Proto()
		op.Result = &longrunningpb.Operation_Error{Error: &rpcstatus.Status{
			Code:    st.GetCode(),
			Message: st.GetMessage(),
			Details: st.GetDetails(),
		}}
		return proto.Clone(op).(*longrunningpb.Operation), nil
	}

	if report == nil {
		report = structpb.NewNullValue()
	}
	packed, err := anypb.New(report)
	if err != nil {
		op.Result = &longrunningpb.Operation_Error{Error: &rpcstatus.Status{
			Code:    int32(codes.Internal),
			Message: "failed to pack audit report: " + err.Error(),
		}}
	} else {
		op.Result = &longrunningpb.Operation_Response{Response: packed}
	}
	return proto.Clone(op).(*longrunningpb.Operation), nil
}

// GetOperation returns a copy of the named operation.
func (s *OperationStore) GetOperation(ctx context.Context, name string) (*longrunningpb.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "operation %s not found", name)
	}
	return proto.Clone(op).(*longrunningpb.Operation), nil
}

// Pending reports the names of audits not yet finished, oldest first.
func (s *OperationStore) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// auditReport unpacks the report of a successful audit operation.
func auditReport(op *longrunningpb.Operation) (*structpb.Value, error) {
	resp := op.GetResponse()
	if resp == nil {
		return nil, status.Error(codes.FailedPrecondition, "operation has no response")
	}
	var v structpb.Value
	if err := resp.UnmarshalTo(&v); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to unpack audit report: %v", err)
	}
	return &v, nil
}
