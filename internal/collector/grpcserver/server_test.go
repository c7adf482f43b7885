package grpcserver_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/metadata"

	grpcserver "github.com/rvtrace/rvtrace/internal/collector/grpcserver"
	"github.com/rvtrace/rvtrace/internal/collector/storage"
	"github.com/rvtrace/rvtrace/proto/collectorpb"
)

// mockStore is a test double for grpcserver.Store.
type mockStore struct {
	mu           sync.Mutex
	runs         []storage.Run
	edges        []storage.Edge
	auditEntries []json.RawMessage
	endedRun     string
	endedCount   int64
}

func (m *mockStore) CreateRun(_ context.Context, r storage.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *mockStore) EndRun(_ context.Context, runID string, eventCount int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedRun = runID
	m.endedCount = eventCount
	return nil
}

func (m *mockStore) BatchInsertEdge(_ context.Context, e storage.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, e)
	return nil
}

func (m *mockStore) AppendAuditEntry(_ context.Context, _ string, payload json.RawMessage) (storage.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditEntries = append(m.auditEntries, payload)
	return storage.AuditEntry{}, nil
}

// mockBroadcaster is a test double for grpcserver.Broadcaster.
type mockBroadcaster struct {
	mu        sync.Mutex
	published [][]byte
}

func (b *mockBroadcaster) Publish(_ string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
}

// fakeStream implements collectorpb.CollectorService_StreamEventsServer
// in-process without a network round trip.
type fakeStream struct {
	ctx    context.Context
	recvCh chan *collectorpb.EventFrame
	sendCh chan *collectorpb.EventAck
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{ctx: ctx, recvCh: make(chan *collectorpb.EventFrame, 16), sendCh: make(chan *collectorpb.EventAck, 16)}
}

func (s *fakeStream) Send(ack *collectorpb.EventAck) error {
	s.sendCh <- ack
	return nil
}

func (s *fakeStream) Recv() (*collectorpb.EventFrame, error) {
	f, ok := <-s.recvCh
	if !ok {
		return nil, io.EOF
	}
	return f, nil
}

func (s *fakeStream) Context() context.Context     { return s.ctx }
func (s *fakeStream) SendMsg(m any) error          { return nil }
func (s *fakeStream) RecvMsg(m any) error          { return nil }
func (s *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (s *fakeStream) SendHeader(metadata.MD) error { return nil }
func (s *fakeStream) SetTrailer(metadata.MD)       {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegisterRun_CreatesRunAndAuditEntry(t *testing.T) {
	store := &mockStore{}
	srv := grpcserver.NewServer(store, &mockBroadcaster{}, testLogger())

	ack, err := srv.RegisterRun(context.Background(), &collectorpb.RunInfo{
		BinaryPath:   "/bin/fw.elf",
		BinarySha256: "deadbeef",
		Host:         "decode-host-1",
	})
	if err != nil {
		t.Fatalf("RegisterRun: %v", err)
	}
	if ack.GetRunId() == "" {
		t.Fatal("expected non-empty run id")
	}
	if len(store.runs) != 1 {
		t.Fatalf("expected 1 run created, got %d", len(store.runs))
	}
	if len(store.auditEntries) != 1 {
		t.Fatalf("expected 1 audit entry appended, got %d", len(store.auditEntries))
	}
}

func TestRegisterRun_MissingFields_ReturnsError(t *testing.T) {
	srv := grpcserver.NewServer(&mockStore{}, &mockBroadcaster{}, testLogger())
	if _, err := srv.RegisterRun(context.Background(), &collectorpb.RunInfo{}); err == nil {
		t.Fatal("want error for missing binary_path/host")
	}
}

func TestStreamEvents_PersistsEdgesAndAcksAndBroadcasts(t *testing.T) {
	store := &mockStore{}
	bc := &mockBroadcaster{}
	srv := grpcserver.NewServer(store, bc, testLogger())

	stream := newFakeStream(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.StreamEvents(stream) }()

	payload, _ := json.Marshal(map[string]any{"kind": "taken_branch", "from": 4096, "to": 4112})
	stream.recvCh <- &collectorpb.EventFrame{RunId: "run-1", Seq: 1, EventJson: payload}
	close(stream.recvCh)

	select {
	case ack := <-stream.sendCh:
		if ack.GetType() != "ACK" {
			t.Fatalf("expected ACK, got %q", ack.GetType())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}

	if err := <-done; err != nil {
		t.Fatalf("StreamEvents returned error: %v", err)
	}

	if len(store.edges) != 1 || store.edges[0].From != 4096 || store.edges[0].To != 4112 {
		t.Fatalf("unexpected edges: %+v", store.edges)
	}
	if store.endedRun != "run-1" || store.endedCount != 1 {
		t.Fatalf("expected run-1 ended with count 1, got %q/%d", store.endedRun, store.endedCount)
	}
	if len(bc.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bc.published))
	}
}

func TestStreamEvents_MalformedEventJSON_SendsErrorAckAndContinues(t *testing.T) {
	store := &mockStore{}
	srv := grpcserver.NewServer(store, &mockBroadcaster{}, testLogger())

	stream := newFakeStream(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.StreamEvents(stream) }()

	stream.recvCh <- &collectorpb.EventFrame{RunId: "run-1", Seq: 1, EventJson: []byte("not-json")}
	close(stream.recvCh)

	select {
	case ack := <-stream.sendCh:
		if ack.GetType() != "ERROR" {
			t.Fatalf("expected ERROR ack, got %q", ack.GetType())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error ack")
	}

	if err := <-done; err != nil {
		t.Fatalf("StreamEvents returned error: %v", err)
	}
	if len(store.edges) != 0 {
		t.Fatalf("expected no edges persisted for a malformed frame, got %d", len(store.edges))
	}
}
