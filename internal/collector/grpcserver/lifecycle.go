package grpcserver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/rvtrace/rvtrace/proto/collectorpb"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Config describes how to bind and secure the collector's gRPC listener.
type Config struct {
	Addr     string
	CertPath string
	KeyPath  string
	CAPath   string
	Insecure bool
}

// Lifecycle wraps a *grpc.Server with the Serve/Stop pair main wants,
// analogous to the dashboard binary's grpcserver.Config/New/Serve/Stop
// wiring.
type Lifecycle struct {
	cfg Config
	srv *grpc.Server
}

// New builds a *grpc.Server bound with cfg's TLS material (or plaintext
// credentials when cfg.Insecure) and registers svc on it.
func New(cfg Config, svc collectorpb.CollectorServiceServer) (*Lifecycle, error) {
	creds, err := serverCredentials(cfg)
	if err != nil {
		return nil, fmt.Errorf("server credentials: %w", err)
	}

	srv := grpc.NewServer(grpc.Creds(creds))
	collectorpb.RegisterCollectorServiceServer(srv, svc)

	return &Lifecycle{cfg: cfg, srv: srv}, nil
}

// Serve blocks accepting connections on l.cfg.Addr until Stop is called
// or the listener errors.
func (l *Lifecycle) Serve() error {
	lis, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.Addr, err)
	}
	return l.srv.Serve(lis)
}

// Stop gracefully stops the server, letting in-flight RPCs finish.
func (l *Lifecycle) Stop() {
	l.srv.GracefulStop()
}

// ForceStop immediately cancels all in-flight RPCs.
func (l *Lifecycle) ForceStop() {
	l.srv.Stop()
}

func serverCredentials(cfg Config) (credentials.TransportCredentials, error) {
	if cfg.Insecure {
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}

	caBytes, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("parse ca bundle %q", cfg.CAPath)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
