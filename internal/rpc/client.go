package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// #region client-struct
// Client calls a remote equilibrium service.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to addr without transport security unless opts say
// otherwise.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close leaves it open.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down a connection opened by NewClient.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

// #region subjects
// CreateSubject creates a subject. Nil entropy lets the server draw it.
func (c *Client) CreateSubject(ctx context.Context, entropy []byte) (identity.GenesisRecord, error) {
	var rec identity.GenesisRecord
	if err := c.call(ctx, MethodCreateSubject, CreateRequest{Entropy: entropy}, &rec); err != nil {
		return identity.GenesisRecord{}, fmt.Errorf("create subject rpc: %w", err)
	}
	return rec, nil
}

// VerifySubject re-derives a subject's stored genesis record.
func (c *Client) VerifySubject(ctx context.Context, id string) (identity.VerificationResult, error) {
	var res identity.VerificationResult
	if err := c.call(ctx, MethodVerifySubject, SubjectRequest{SubjectID: id}, &res); err != nil {
		return identity.VerificationResult{}, fmt.Errorf("verify subject rpc: %w", err)
	}
	return res, nil
}

// Lock folds a snapshot into the subject's genesis record.
func (c *Client) Lock(ctx context.Context, id string) (identity.GenesisRecord, error) {
	var rec identity.GenesisRecord
	if err := c.call(ctx, MethodLock, SubjectRequest{SubjectID: id}, &rec); err != nil {
		return identity.GenesisRecord{}, fmt.Errorf("lock rpc: %w", err)
	}
	return rec, nil
}

// #endregion subjects

// #region encoding
// Encode encodes one measurement.
func (c *Client) Encode(ctx context.Context, id string, value float64, dimension string) (encoder.EncodedValue, error) {
	var ev encoder.EncodedValue
	req := EncodeRequest{SubjectID: id, Value: value, Dimension: dimension}
	if err := c.call(ctx, MethodEncode, req, &ev); err != nil {
		return encoder.EncodedValue{}, fmt.Errorf("encode rpc: %w", err)
	}
	return ev, nil
}

// Decode inverts an encoding.
func (c *Client) Decode(ctx context.Context, id string, ev encoder.EncodedValue) (encoder.DecodedResult, error) {
	var res encoder.DecodedResult
	if err := c.call(ctx, MethodDecode, DecodeRequest{SubjectID: id, Encoded: ev}, &res); err != nil {
		return encoder.DecodedResult{}, fmt.Errorf("decode rpc: %w", err)
	}
	return res, nil
}

// Predict projects the subject's trajectory toward its vertex.
func (c *Client) Predict(ctx context.Context, id string) (trajectory.Prediction, error) {
	var p trajectory.Prediction
	if err := c.call(ctx, MethodPredict, SubjectRequest{SubjectID: id}, &p); err != nil {
		return trajectory.Prediction{}, fmt.Errorf("predict rpc: %w", err)
	}
	return p, nil
}

// #endregion encoding

// #region tiers
// RecordAction appends a scored action and returns the history length.
func (c *Client) RecordAction(ctx context.Context, id string, a gate.Action) (int, error) {
	var reply ActionReply
	if err := c.call(ctx, MethodRecordAction, ActionRequest{SubjectID: id, Action: a}, &reply); err != nil {
		return 0, fmt.Errorf("record action rpc: %w", err)
	}
	return reply.HistoryLength, nil
}

// Score evaluates the subject's access tier.
func (c *Client) Score(ctx context.Context, id string) (gate.Result, error) {
	var res gate.Result
	if err := c.call(ctx, MethodScore, SubjectRequest{SubjectID: id}, &res); err != nil {
		return gate.Result{}, fmt.Errorf("score rpc: %w", err)
	}
	return res, nil
}

// #endregion tiers

// #region snapshots
// Snapshot commits the subject's encoder state.
func (c *Client) Snapshot(ctx context.Context, id string) (SnapshotReply, error) {
	var reply SnapshotReply
	if err := c.call(ctx, MethodSnapshot, SubjectRequest{SubjectID: id}, &reply); err != nil {
		return SnapshotReply{}, fmt.Errorf("snapshot rpc: %w", err)
	}
	return reply, nil
}

// Rollback restores a stored snapshot version.
func (c *Client) Rollback(ctx context.Context, id, versionID string) error {
	var reply Empty
	if err := c.call(ctx, MethodRollback, RollbackRequest{SubjectID: id, VersionID: versionID}, &reply); err != nil {
		return fmt.Errorf("rollback rpc: %w", err)
	}
	return nil
}

// #endregion snapshots

// #region ownership
// ProveOwnership asks the server for an ownership proof.
func (c *Client) ProveOwnership(ctx context.Context, id string) (identity.OwnershipProof, error) {
	var p identity.OwnershipProof
	if err := c.call(ctx, MethodProveOwnership, SubjectRequest{SubjectID: id}, &p); err != nil {
		return identity.OwnershipProof{}, fmt.Errorf("prove ownership rpc: %w", err)
	}
	return p, nil
}

// VerifyOwnership checks a proof against the server's digit source.
func (c *Client) VerifyOwnership(ctx context.Context, id string, p identity.OwnershipProof) (OwnershipReply, error) {
	var reply OwnershipReply
	if err := c.call(ctx, MethodVerifyOwnership, OwnershipRequest{SubjectID: id, Proof: p}, &reply); err != nil {
		return OwnershipReply{}, fmt.Errorf("verify ownership rpc: %w", err)
	}
	return reply, nil
}

// #endregion ownership
