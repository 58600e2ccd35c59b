package rpc

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/state"
	"github.com/danielpatrickdp/equilibrium/internal/subject"
)

// errBadRequest marks request messages that do not decode.
var errBadRequest = errors.New("bad request")

type route func(ctx context.Context, in *structpb.Struct) (any, error)

// #region server
// Server implements Handler over a subject registry.
type Server struct {
	reg    *subject.Registry
	logger *slog.Logger
	routes map[string]route
}

// NewServer creates a server for reg. A nil logger discards output.
func NewServer(reg *subject.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{reg: reg, logger: logger}
	s.routes = map[string]route{
		MethodCreateSubject:   handle(s.createSubject),
		MethodVerifySubject:   handle(s.verifySubject),
		MethodEncode:          handle(s.encode),
		MethodDecode:          handle(s.decode),
		MethodPredict:         handle(s.predict),
		MethodRecordAction:    handle(s.recordAction),
		MethodScore:           handle(s.score),
		MethodSnapshot:        handle(s.snapshot),
		MethodRollback:        handle(s.rollback),
		MethodLock:            handle(s.lock),
		MethodProveOwnership:  handle(s.proveOwnership),
		MethodVerifyOwnership: handle(s.verifyOwnership),
	}
	return s
}

func handle[Req any](fn func(context.Context, Req) (any, error)) route {
	return func(ctx context.Context, in *structpb.Struct) (any, error) {
		var req Req
		if err := fromStruct(in, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return fn(ctx, req)
	}
}

// Handle dispatches one call and maps domain errors onto status codes.
func (s *Server) Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	r, ok := s.routes[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	out, err := r(ctx, req)
	if err != nil {
		st := toStatus(err)
		if st.Code() == codes.Internal {
			s.logger.ErrorContext(ctx, "rpc failed", "method", method, "error", err)
		}
		return nil, st.Err()
	}
	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func toStatus(err error) *status.Status {
	var code codes.Code
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, identity.ErrInvalidOffset),
		errors.Is(err, identity.ErrDegenerateQuadratic),
		errors.Is(err, encoder.ErrInvalidMeasurement):
		code = codes.InvalidArgument
	case errors.Is(err, subject.ErrNotFound), errors.Is(err, state.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, identity.ErrTampered):
		code = codes.DataLoss
	case errors.Is(err, identity.ErrAlreadyLocked):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.New(code, err.Error())
}

// #endregion server

// #region methods
func (s *Server) createSubject(ctx context.Context, req CreateRequest) (any, error) {
	entropy := req.Entropy
	if len(entropy) == 0 {
		entropy = make([]byte, 32)
		if _, err := rand.Read(entropy); err != nil {
			return nil, fmt.Errorf("draw entropy: %w", err)
		}
	}
	subj, err := s.reg.Create(entropy)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "subject created", "subject", subj.ID(), "offset", subj.Genesis().Offset)
	return subj.Genesis(), nil
}

func (s *Server) verifySubject(ctx context.Context, req SubjectRequest) (any, error) {
	res, err := s.reg.Verify(req.SubjectID)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		s.logger.WarnContext(ctx, "genesis verification failed", "subject", req.SubjectID, "reason", res.Reason)
	}
	return res, nil
}

func (s *Server) encode(_ context.Context, req EncodeRequest) (any, error) {
	return s.reg.Encode(req.SubjectID, req.Value, req.Dimension)
}

func (s *Server) decode(_ context.Context, req DecodeRequest) (any, error) {
	return s.reg.Decode(req.SubjectID, req.Encoded)
}

func (s *Server) predict(_ context.Context, req SubjectRequest) (any, error) {
	return s.reg.Predict(req.SubjectID)
}

func (s *Server) recordAction(_ context.Context, req ActionRequest) (any, error) {
	n, err := s.reg.RecordAction(req.SubjectID, req.Action)
	if err != nil {
		return nil, err
	}
	return ActionReply{HistoryLength: n}, nil
}

func (s *Server) score(ctx context.Context, req SubjectRequest) (any, error) {
	res, err := s.reg.Score(req.SubjectID)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "scored", "subject", req.SubjectID, "tier", res.Tier, "gated", res.Gated)
	return res, nil
}

func (s *Server) snapshot(_ context.Context, req SubjectRequest) (any, error) {
	v, err := s.reg.Snapshot(req.SubjectID)
	if err != nil {
		return nil, err
	}
	return SnapshotReply{
		VersionID:  v.VersionID,
		ParentID:   v.ParentID,
		Hash:       v.Hash,
		DataPoints: v.Snapshot.VectorCount,
		CreatedAt:  v.CreatedAt.UnixMilli(),
	}, nil
}

func (s *Server) rollback(ctx context.Context, req RollbackRequest) (any, error) {
	if err := s.reg.Rollback(req.SubjectID, req.VersionID); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "rolled back", "subject", req.SubjectID, "version", req.VersionID)
	return Empty{}, nil
}

func (s *Server) lock(ctx context.Context, req SubjectRequest) (any, error) {
	rec, err := s.reg.Lock(req.SubjectID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "subject locked", "subject", rec.ID, "snapshot", rec.SnapshotHash)
	return rec, nil
}

func (s *Server) proveOwnership(_ context.Context, req SubjectRequest) (any, error) {
	return s.reg.ProveOwnership(req.SubjectID)
}

func (s *Server) verifyOwnership(_ context.Context, req OwnershipRequest) (any, error) {
	err := s.reg.VerifyOwnership(req.SubjectID, req.Proof)
	switch {
	case err == nil:
		return OwnershipReply{Valid: true, Reason: "proof verified"}, nil
	case errors.Is(err, identity.ErrOwnershipMismatch), errors.Is(err, identity.ErrInvalidOffset):
		return OwnershipReply{Valid: false, Reason: err.Error()}, nil
	default:
		return nil, err
	}
}

// #endregion methods

// #region grpc-server
// LoggingInterceptor logs each unary call with its status code and latency.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "rpc", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
		return resp, err
	}
}

// NewGRPCServer builds a grpc.Server serving s plus the standard health
// service.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(LoggingInterceptor(s.logger))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterHandler(gs, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// #endregion grpc-server
