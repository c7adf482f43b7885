package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rvtrace/rvtrace/internal/trace"
	"github.com/rvtrace/rvtrace/proto/collectorpb"
)

const (
	defaultMaxBackoff = 60 * time.Second
	initialBackoff    = time.Second
	drainBatchSize    = 50
	drainPollInterval = 100 * time.Millisecond
)

// Config holds the parameters for connecting to a collector.
type Config struct {
	// Addr is the collector's gRPC address. Required.
	Addr string

	// CertPath, KeyPath, CAPath are the mTLS client certificate, private
	// key, and CA bundle. Required unless Insecure is true.
	CertPath string
	KeyPath  string
	CAPath   string

	// ServerName overrides the TLS server name for SNI verification.
	ServerName string

	// Host is the decoding host's name sent in RegisterRun. Defaults to
	// os.Hostname() when empty.
	Host string

	// SpoolPath is the local WAL-mode SQLite database that buffers
	// events the stream could not yet deliver. Required.
	SpoolPath string

	// MaxBackoff caps the exponential reconnect back-off. Defaults to
	// 60s when zero or negative.
	MaxBackoff time.Duration

	// Insecure disables TLS entirely. Testing only.
	Insecure bool
}

// Sink streams reconstructed events to a collector over a persistent
// bidirectional gRPC stream (EXP.2.1). Events are first written to a
// local durable spool; a background connection loop drains the spool in
// FIFO order and acknowledges each event only once the collector has
// confirmed receipt, so a stream disconnect never loses an event.
type Sink struct {
	cfg          Config
	binaryPath   string
	binarySHA256 string
	logger       *slog.Logger

	spool *spool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	seq atomic.Int64

	runMu sync.RWMutex
	runID string

	sentTotal      atomic.Int64
	reconnectTotal atomic.Int64
}

// New opens the local spool at cfg.SpoolPath and starts the background
// connection loop. binaryPath/binarySHA256 identify the decode run sent
// in RegisterRun.
func New(ctx context.Context, cfg Config, binaryPath, binarySHA256 string, logger *slog.Logger) (*Sink, error) {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	sp, err := openSpool(cfg.SpoolPath)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		cfg:          cfg,
		binaryPath:   binaryPath,
		binarySHA256: binarySHA256,
		logger:       logger,
		spool:        sp,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// wireEvent is the JSON payload carried inside EventFrame.event_json, the
// same shape the json sink writes per line.
type wireEvent struct {
	Kind      string `json:"kind"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// OnEvent persists e to the local spool for delivery. It implements
// sink.Sink. None events carry no control-flow arc and are not streamed.
func (s *Sink) OnEvent(e trace.Event) error {
	if e.Kind == trace.KindNone {
		return nil
	}
	payload, err := json.Marshal(wireEvent{
		Kind:      e.Kind.String(),
		From:      e.Arc.From,
		To:        e.Arc.To,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("remote: marshal event: %w", err)
	}
	return s.spool.enqueue(context.Background(), s.RunID(), payload)
}

// Flush blocks until the spool has fully drained (every spooled event
// has been acknowledged by the collector) or the connection loop has
// exited (Stop was called or the ctx passed to New was cancelled), then
// stops the connection loop. It implements sink.Sink.
func (s *Sink) Flush() error {
	ctx := context.Background()
	for s.spool.depth(ctx) > 0 {
		select {
		case <-s.stopCh:
			return fmt.Errorf("remote: stopped with events still pending")
		case <-s.done:
			return fmt.Errorf("remote: connection loop exited with events still pending")
		case <-time.After(drainPollInterval):
		}
	}
	s.Stop()
	return nil
}

// Close stops the connection loop (if still running) and closes the
// local spool database.
func (s *Sink) Close() error {
	s.Stop()
	return s.spool.close()
}

// Stop signals the run loop to exit and blocks until it has. Safe to
// call more than once.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// RunID returns the run_id assigned by the collector's most recent
// successful RegisterRun call, or "" before the first registration.
func (s *Sink) RunID() string {
	s.runMu.RLock()
	defer s.runMu.RUnlock()
	return s.runID
}

// SentTotal returns the number of events acknowledged by the collector.
func (s *Sink) SentTotal() int64 { return s.sentTotal.Load() }

// ReconnectTotal returns the number of reconnect attempts made.
func (s *Sink) ReconnectTotal() int64 { return s.reconnectTotal.Load() }

// --- connection loop ---

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)

	backoff := initialBackoff
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if !first {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
		first = false

		err := s.runOnce(ctx)
		if err == nil {
			return
		}

		s.reconnectTotal.Add(1)
		s.logger.Warn("remote: connection lost, reconnecting",
			slog.Any("error", err),
			slog.Duration("backoff", backoff),
		)
		backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
	}
}

func (s *Sink) runOnce(ctx context.Context) error {
	creds, err := s.buildCredentials()
	if err != nil {
		return fmt.Errorf("build TLS credentials: %w", err)
	}

	conn, err := grpc.NewClient(s.cfg.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Addr, err)
	}
	defer conn.Close()

	client := collectorpb.NewCollectorServiceClient(conn)

	host := s.cfg.Host
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}

	regCtx, regCancel := context.WithTimeout(ctx, 10*time.Second)
	ack, err := client.RegisterRun(regCtx, &collectorpb.RunInfo{
		BinaryPath:   s.binaryPath,
		BinarySha256: s.binarySHA256,
		Host:         host,
		StartedAtUs:  time.Now().UnixMicro(),
	})
	regCancel()
	if err != nil {
		return fmt.Errorf("RegisterRun: %w", err)
	}

	s.runMu.Lock()
	s.runID = ack.RunId
	s.runMu.Unlock()

	s.logger.Info("remote: registered with collector",
		slog.String("run_id", ack.RunId),
		slog.String("collector_addr", s.cfg.Addr),
	)

	stream, err := client.StreamEvents(ctx)
	if err != nil {
		return fmt.Errorf("StreamEvents: %w", err)
	}

	if err := s.drainSpool(ctx, stream); err != nil {
		select {
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
			return fmt.Errorf("spool drain: %w", err)
		}
	}
	return nil
}

// drainSpool delivers every undelivered spool row over stream in FIFO
// order, acknowledging (and dequeuing) each row only after the collector
// sends an EventAck of type "ACK". It returns when the spool is fully
// drained and then polls it for new rows until the stream errs out,
// stopCh closes, or ctx is cancelled.
func (s *Sink) drainSpool(ctx context.Context, stream collectorpb.CollectorService_StreamEventsClient) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}

		pending, err := s.spool.dequeue(ctx, drainBatchSize)
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stopCh:
				return nil
			case <-time.After(drainPollInterval):
				continue
			}
		}

		for _, se := range pending {
			frame := &collectorpb.EventFrame{
				RunId:     s.RunID(),
				Seq:       s.seq.Add(1),
				EventJson: se.Payload,
			}
			if err := stream.Send(frame); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			ack, err := stream.Recv()
			if err != nil {
				return fmt.Errorf("recv ack: %w", err)
			}
			switch ack.Type {
			case "ACK":
				if ackErr := s.spool.ack(ctx, se.ID); ackErr != nil {
					s.logger.Warn("remote: spool ack failed",
						slog.Int64("spool_id", se.ID), slog.Any("error", ackErr))
				} else {
					s.sentTotal.Add(1)
				}
			default:
				s.logger.Warn("remote: collector rejected event",
					slog.Int64("spool_id", se.ID), slog.String("response", ack.Type))
			}
		}
	}
}

func (s *Sink) buildCredentials() (credentials.TransportCredentials, error) {
	if s.cfg.Insecure {
		return insecure.NewCredentials(), nil
	}

	clientCert, err := tls.LoadX509KeyPair(s.cfg.CertPath, s.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key (%s, %s): %w", s.cfg.CertPath, s.cfg.KeyPath, err)
	}

	caPEM, err := os.ReadFile(s.cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", s.cfg.CAPath, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert from %s: no certificates found", s.cfg.CAPath)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}
	if s.cfg.ServerName != "" {
		tlsCfg.ServerName = s.cfg.ServerName
	}
	return credentials.NewTLS(tlsCfg), nil
}

// nextBackoff doubles current with ±25% jitter, capped at maxBackoff.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	jitterFactor := 0.75 + rand.Float64()*0.5
	next = time.Duration(float64(next) * jitterFactor)
	if next < initialBackoff {
		next = initialBackoff
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
