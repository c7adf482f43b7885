// Command rvtrace decodes a RISC-V hardware trace packet stream against
// its program binary and fans the reconstructed instruction stream out
// to the requested analysis sinks.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rvtrace/rvtrace/internal/config"
	"github.com/rvtrace/rvtrace/internal/pipeline"
	"github.com/rvtrace/rvtrace/internal/runaudit"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML run configuration file (optional; flags below override it)")
	encodedTrace := flag.String("encoded-trace", "", "path to the packet-stream input file")
	binary := flag.String("binary", "", "path to the traced RV64 ELF executable")
	decodedTrace := flag.String("decoded-trace", "", "base path for sink output artifacts (default trace.dump)")
	gcno := flag.String("gcno", "", "path to the GCNO coverage-notes file (required with --to-gcda)")
	logLevel := flag.String("log-level", "", "debug, info, warn, or error")
	auditLog := flag.String("audit-log", "", "path to a tamper-evident decode-run ledger (optional)")
	historyDB := flag.String("history-db", "", "path to a SQLite run-history database (optional)")

	toTxt := flag.Bool("to-txt", false, "enable the txt sink (on by default unless any other sink toggle is set)")
	toJSON := flag.Bool("to-json", false, "enable the json sink")
	toAfdo := flag.Bool("to-afdo", false, "enable the afdo sink")
	toGcda := flag.Bool("to-gcda", false, "enable the gcda sink")
	toSpeedscope := flag.Bool("to-speedscope", false, "enable the speedscope sink")
	toVpp := flag.Bool("to-vpp", false, "enable the vpp sink")

	toRemote := flag.String("to-remote", "", "collector gRPC address to stream events to (enables the remote sink)")
	remoteCert := flag.String("remote-cert", "", "client certificate for the remote sink's mTLS connection")
	remoteKey := flag.String("remote-key", "", "client private key for the remote sink's mTLS connection")
	remoteCA := flag.String("remote-ca", "", "CA bundle for the remote sink's mTLS connection")
	remoteInsecure := flag.Bool("remote-insecure", false, "disable mTLS on the remote sink (testing only)")
	flag.Parse()

	cfg, err := loadAndOverride(*configPath, *encodedTrace, *binary, *decodedTrace, *gcno, *logLevel, *auditLog, *historyDB,
		*toRemote, *remoteCert, *remoteKey, *remoteCA,
		*toTxt, *toJSON, *toAfdo, *toGcda, *toSpeedscope, *toVpp, *remoteInsecure)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvtrace: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("decode run starting",
		slog.String("encoded_trace", cfg.EncodedTrace),
		slog.String("binary", cfg.Binary),
		slog.String("decoded_trace", cfg.DecodedTrace),
	)

	startedAt := time.Now()
	runErr := pipeline.Run(context.Background(), cfg, logger)

	if cfg.AuditLog != "" {
		if err := recordAudit(cfg, startedAt, runErr); err != nil {
			logger.Error("audit log write failed", slog.Any("error", err))
		}
	}

	if runErr != nil {
		logger.Error("decode run failed", slog.Any("error", runErr))
		os.Exit(1)
	}
	logger.Info("decode run finished")
}

// recordAudit appends one entry to the tamper-evident decode-run ledger
// at cfg.AuditLog describing this invocation's inputs and outcome.
func recordAudit(cfg *config.Config, startedAt time.Time, runErr error) error {
	l, err := runaudit.Open(cfg.AuditLog)
	if err != nil {
		return fmt.Errorf("open audit log %q: %w", cfg.AuditLog, err)
	}
	defer l.Close()

	var traceSize int64
	if fi, err := os.Stat(cfg.EncodedTrace); err == nil {
		traceSize = fi.Size()
	}

	binarySHA := ""
	if data, err := os.ReadFile(cfg.Binary); err == nil {
		sum := sha256.Sum256(data)
		binarySHA = hex.EncodeToString(sum[:])
	}

	exitStatus := "ok"
	if runErr != nil {
		exitStatus = fmt.Sprintf("error: %v", runErr)
	}

	_, err = l.AppendRun(runaudit.RunRecord{
		EncodedTracePath: cfg.EncodedTrace,
		EncodedTraceSize: traceSize,
		BinaryPath:       cfg.Binary,
		BinarySHA256:     binarySHA,
		GcnoPath:         cfg.Gcno,
		SinksEnabled:     enabledSinkNames(cfg.Sinks),
		ExitStatus:       exitStatus,
		StartedAt:        startedAt,
	})
	return err
}

// enabledSinkNames lists the sinks cfg enables, for the audit log's
// sinks_enabled field.
func enabledSinkNames(s config.SinksConfig) []string {
	var names []string
	if s.Txt {
		names = append(names, "txt")
	}
	if s.JSON {
		names = append(names, "json")
	}
	if s.Afdo {
		names = append(names, "afdo")
	}
	if s.Gcda {
		names = append(names, "gcda")
	}
	if s.Speedscope {
		names = append(names, "speedscope")
	}
	if s.Vpp {
		names = append(names, "vpp")
	}
	return names
}

// loadAndOverride builds a Config either from a YAML file at configPath
// (when non-empty) or a zero Config, then overlays any flag value the
// caller actually set, and finally validates the merged result. CLI
// flags override YAML fields that are set (§6, EXP.1).
func loadAndOverride(configPath, encodedTrace, binary, decodedTrace, gcno, logLevel, auditLog, historyDB string,
	toRemote, remoteCert, remoteKey, remoteCA string,
	toTxt, toJSON, toAfdo, toGcda, toSpeedscope, toVpp, remoteInsecure bool) (*config.Config, error) {

	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if encodedTrace != "" {
		cfg.EncodedTrace = encodedTrace
	}
	if binary != "" {
		cfg.Binary = binary
	}
	if decodedTrace != "" {
		cfg.DecodedTrace = decodedTrace
	}
	if gcno != "" {
		cfg.Gcno = gcno
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if auditLog != "" {
		cfg.AuditLog = auditLog
	}
	if historyDB != "" {
		cfg.HistoryDB = historyDB
	}
	if toRemote != "" {
		cfg.Remote.Addr = toRemote
	}
	if remoteCert != "" {
		cfg.Remote.CertPath = remoteCert
	}
	if remoteKey != "" {
		cfg.Remote.KeyPath = remoteKey
	}
	if remoteCA != "" {
		cfg.Remote.CAPath = remoteCA
	}
	if remoteInsecure {
		cfg.Remote.Insecure = true
	}
	if toTxt {
		cfg.Sinks.Txt = true
	}
	if toJSON {
		cfg.Sinks.JSON = true
	}
	if toAfdo {
		cfg.Sinks.Afdo = true
	}
	if toGcda {
		cfg.Sinks.Gcda = true
	}
	if toSpeedscope {
		cfg.Sinks.Speedscope = true
	}
	if toVpp {
		cfg.Sinks.Vpp = true
	}

	if cfg.EncodedTrace == "" {
		return nil, fmt.Errorf("--encoded-trace is required")
	}
	if cfg.Binary == "" {
		return nil, fmt.Errorf("--binary is required")
	}
	if cfg.DecodedTrace == "" {
		cfg.DecodedTrace = "trace.dump"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !cfg.Sinks.Txt && !cfg.Sinks.JSON && !cfg.Sinks.Afdo && !cfg.Sinks.Gcda && !cfg.Sinks.Speedscope && !cfg.Sinks.Vpp {
		cfg.Sinks.Txt = true
	}
	if cfg.Sinks.Gcda && cfg.Gcno == "" {
		return nil, fmt.Errorf("--gcno is required when --to-gcda is set")
	}
	if cfg.Remote.Enabled() {
		if !cfg.Remote.Insecure && (cfg.Remote.CertPath == "" || cfg.Remote.KeyPath == "" || cfg.Remote.CAPath == "") {
			return nil, fmt.Errorf("--remote-cert, --remote-key, and --remote-ca are required when --to-remote is set (or pass --remote-insecure)")
		}
		if cfg.Remote.SpoolPath == "" {
			cfg.Remote.SpoolPath = cfg.DecodedTrace + ".spool.db"
		}
	}

	return &cfg, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
