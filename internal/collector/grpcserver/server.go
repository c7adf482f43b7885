// Package grpcserver implements the collector side of the remote sink's
// gRPC protocol: RegisterRun opens a run, StreamEvents ingests its
// reconstructed events into storage and fans them out to live tail
// subscribers. Generalized from the TripWire dashboard's
// internal/server/grpc package, which does the equivalent job for
// alert events instead of control-flow events.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rvtrace/rvtrace/internal/collector/storage"
	"github.com/rvtrace/rvtrace/internal/collector/ws"
	"github.com/rvtrace/rvtrace/proto/collectorpb"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// wireEvent mirrors internal/sink/remote's JSON event shape; duplicated
// here rather than imported since the two packages must never share a
// compile-time dependency on each other's internals — only the JSON
// contract is shared.
type wireEvent struct {
	Kind      string `json:"kind"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

// Store is the subset of *storage.Store the service depends on.
type Store interface {
	CreateRun(ctx context.Context, r storage.Run) error
	EndRun(ctx context.Context, runID string, eventCount int64, endedAt time.Time) error
	BatchInsertEdge(ctx context.Context, e storage.Edge) error
	AppendAuditEntry(ctx context.Context, host string, payload json.RawMessage) (storage.AuditEntry, error)
}

// Broadcaster is the subset of *ws.Broadcaster the service depends on,
// narrowed so tests can substitute a stub.
type Broadcaster interface {
	Publish(runID string, payload []byte)
}

var _ Broadcaster = (*ws.Broadcaster)(nil)

// Server implements collectorpb.CollectorServiceServer.
type Server struct {
	collectorpb.UnimplementedCollectorServiceServer

	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger

	runIDSeq func() string
}

// NewServer builds a Server persisting to store and publishing live
// events to broadcaster.
func NewServer(store Store, broadcaster Broadcaster, logger *slog.Logger) *Server {
	return &Server{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		runIDSeq:    newRunID,
	}
}

// RegisterRun opens a new run row and appends one hash-chained audit
// entry for it, keyed by the reporting host.
func (s *Server) RegisterRun(ctx context.Context, req *collectorpb.RunInfo) (*collectorpb.RunAck, error) {
	if req.GetBinaryPath() == "" || req.GetHost() == "" {
		return nil, status.Error(codes.InvalidArgument, "binary_path and host are required")
	}

	runID := s.runIDSeq()
	startedAt := time.UnixMicro(int64(req.GetStartedAtUs()))
	if req.GetStartedAtUs() == 0 {
		startedAt = time.Now().UTC()
	}

	run := storage.Run{
		RunID:        runID,
		BinaryPath:   req.GetBinaryPath(),
		BinarySHA256: req.GetBinarySha256(),
		Host:         req.GetHost(),
		StartedAt:    startedAt,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.logger.Error("create run failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to create run")
	}

	payload, _ := json.Marshal(map[string]any{
		"event":         "register_run",
		"run_id":        runID,
		"binary_path":   run.BinaryPath,
		"binary_sha256": run.BinarySHA256,
	})
	if _, err := s.store.AppendAuditEntry(ctx, run.Host, payload); err != nil {
		s.logger.Warn("audit entry append failed", slog.Any("error", err))
	}

	return &collectorpb.RunAck{
		RunId:        runID,
		ServerTimeUs: time.Now().UnixMicro(),
	}, nil
}

// StreamEvents ingests a run's reconstructed events: each frame's arc is
// accumulated into run_edges and broadcast to any live tail client
// watching that run.
func (s *Server) StreamEvents(stream collectorpb.CollectorService_StreamEventsServer) error {
	ctx := stream.Context()
	var runID string
	var count int64

	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("recv event frame: %w", err)
		}

		runID = frame.GetRunId()
		var we wireEvent
		if err := json.Unmarshal(frame.GetEventJson(), &we); err != nil {
			if sendErr := stream.Send(&collectorpb.EventAck{Seq: frame.GetSeq(), Type: "ERROR"}); sendErr != nil {
				return sendErr
			}
			continue
		}

		if err := s.store.BatchInsertEdge(ctx, storage.Edge{
			RunID: runID,
			From:  we.From,
			To:    we.To,
			Count: 1,
		}); err != nil {
			s.logger.Error("insert edge failed", slog.Any("error", err))
			if sendErr := stream.Send(&collectorpb.EventAck{Seq: frame.GetSeq(), Type: "ERROR"}); sendErr != nil {
				return sendErr
			}
			continue
		}
		count++

		if s.broadcaster != nil {
			msg, _ := json.Marshal(ws.EventMessage{
				RunID:     runID,
				Seq:       frame.GetSeq(),
				Kind:      we.Kind,
				From:      we.From,
				To:        we.To,
				Timestamp: we.Timestamp,
			})
			s.broadcaster.Publish(runID, msg)
		}

		if err := stream.Send(&collectorpb.EventAck{Seq: frame.GetSeq(), Type: "ACK"}); err != nil {
			return fmt.Errorf("send ack: %w", err)
		}
	}

	if runID != "" {
		if err := s.store.EndRun(ctx, runID, count, time.Now().UTC()); err != nil {
			s.logger.Warn("end run failed", slog.Any("error", err))
		}
	}
	return nil
}

func newRunID() string {
	return fmt.Sprintf("run-%d", time.Now().UnixNano())
}
