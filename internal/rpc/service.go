// Package rpc exposes the subject registry over gRPC. Messages travel as
// google.protobuf.Struct values so the service needs no generated code; each
// method's request and reply shapes are the JSON forms of the types below.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "equilibrium.v1.Equilibrium"

// Method names.
const (
	MethodCreateSubject   = "CreateSubject"
	MethodVerifySubject   = "VerifySubject"
	MethodEncode          = "Encode"
	MethodDecode          = "Decode"
	MethodPredict         = "Predict"
	MethodRecordAction    = "RecordAction"
	MethodScore           = "Score"
	MethodSnapshot        = "Snapshot"
	MethodRollback        = "Rollback"
	MethodLock            = "Lock"
	MethodProveOwnership  = "ProveOwnership"
	MethodVerifyOwnership = "VerifyOwnership"
)

var methods = []string{
	MethodCreateSubject, MethodVerifySubject, MethodEncode, MethodDecode,
	MethodPredict, MethodRecordAction, MethodScore, MethodSnapshot,
	MethodRollback, MethodLock, MethodProveOwnership, MethodVerifyOwnership,
}

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// #region messages
// CreateRequest carries genesis entropy. Empty entropy is drawn by the server.
type CreateRequest struct {
	Entropy []byte `json:"entropy,omitempty"`
}

// SubjectRequest names a subject.
type SubjectRequest struct {
	SubjectID string `json:"subjectId"`
}

// EncodeRequest is one raw measurement.
type EncodeRequest struct {
	SubjectID string  `json:"subjectId"`
	Value     float64 `json:"value"`
	Dimension string  `json:"dimension"`
}

// DecodeRequest carries an encoding to invert.
type DecodeRequest struct {
	SubjectID string               `json:"subjectId"`
	Encoded   encoder.EncodedValue `json:"encoded"`
}

// ActionRequest records one scored action.
type ActionRequest struct {
	SubjectID string      `json:"subjectId"`
	Action    gate.Action `json:"action"`
}

// ActionReply reports the retained history length after recording.
type ActionReply struct {
	HistoryLength int `json:"historyLength"`
}

// SnapshotReply describes a committed snapshot version.
type SnapshotReply struct {
	VersionID  string `json:"versionId,omitempty"`
	ParentID   string `json:"parentId,omitempty"`
	Hash       string `json:"hash"`
	DataPoints int    `json:"dataPoints"`
	CreatedAt  int64  `json:"createdAt"` // unix millis
}

// RollbackRequest selects a stored snapshot version.
type RollbackRequest struct {
	SubjectID string `json:"subjectId"`
	VersionID string `json:"versionId"`
}

// OwnershipRequest carries a proof to check. SubjectID only attributes the
// audit entry.
type OwnershipRequest struct {
	SubjectID string                  `json:"subjectId,omitempty"`
	Proof     identity.OwnershipProof `json:"proof"`
}

// OwnershipReply is the outcome of an ownership check. A mismatch is a
// result, not an error.
type OwnershipReply struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// Empty is the reply of methods with nothing to return.
type Empty struct{}

// #endregion messages

// #region service-desc
// Handler serves every method of the service.
type Handler interface {
	Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "equilibrium/v1/equilibrium.proto",
}

func methodDescs() []grpc.MethodDesc {
	descs := make([]grpc.MethodDesc, len(methods))
	for i, m := range methods {
		descs[i] = grpc.MethodDesc{MethodName: m, Handler: unaryHandler(m)}
	}
	return descs
}

func unaryHandler(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return h.Handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h.Handle(ctx, method, req.(*structpb.Struct))
		})
	}
}

// RegisterHandler registers h on s.
func RegisterHandler(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

// #endregion service-desc

// #region conversion
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert message: %w", err)
	}
	return out, nil
}

// fromStruct decodes s into v, rejecting fields v does not declare.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("convert message: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}

// #endregion conversion
