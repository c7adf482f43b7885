package main

import "testing"

func TestLoadAndOverrideRequiresEncodedTraceAndBinary(t *testing.T) {
	if _, err := loadAndOverride("", "", "", "", "", "", "", "", "", "", "", "", false, false, false, false, false, false, false); err == nil {
		t.Fatal("want error when --encoded-trace and --binary are both missing")
	}
	if _, err := loadAndOverride("", "trace.bin", "", "", "", "", "", "", "", "", "", "", false, false, false, false, false, false, false); err == nil {
		t.Fatal("want error when --binary is missing")
	}
}

func TestLoadAndOverrideDefaultsTxtSinkOn(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "", "", "", "", "", false, false, false, false, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Sinks.Txt {
		t.Fatal("want txt sink on when no sink toggle is set")
	}
	if cfg.Sinks.JSON || cfg.Sinks.Afdo {
		t.Fatalf("want other sinks off, got %+v", cfg.Sinks)
	}
	if cfg.DecodedTrace != "trace.dump" {
		t.Fatalf("want default decoded trace path, got %q", cfg.DecodedTrace)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("want default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoadAndOverrideExplicitSinkSuppressesTxtDefault(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "", "", "", "", "", false, true, false, false, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sinks.Txt {
		t.Fatal("want txt sink off when another sink was explicitly requested")
	}
	if !cfg.Sinks.JSON {
		t.Fatal("want json sink on")
	}
}

func TestLoadAndOverrideGcdaRequiresGcno(t *testing.T) {
	_, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "", "", "", "", "", false, false, false, true, false, false, false)
	if err == nil {
		t.Fatal("want error when --to-gcda is set without --gcno")
	}
}

func TestLoadAndOverrideGcnoFlagSatisfiesGcda(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "notes.gcno", "", "", "", "", "", "", "", false, false, false, true, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gcno != "notes.gcno" {
		t.Fatalf("want gcno path set, got %q", cfg.Gcno)
	}
}

func TestLoadAndOverrideSetsAuditLogAndHistoryDB(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "audit.log", "history.db", "", "", "", "", false, false, false, false, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuditLog != "audit.log" {
		t.Fatalf("want audit log path set, got %q", cfg.AuditLog)
	}
	if cfg.HistoryDB != "history.db" {
		t.Fatalf("want history db path set, got %q", cfg.HistoryDB)
	}
}

func TestLoadAndOverrideAuditLogAndHistoryDBDefaultEmpty(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "", "", "", "", "", false, false, false, false, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuditLog != "" || cfg.HistoryDB != "" {
		t.Fatalf("want both optional paths empty by default, got audit=%q history=%q", cfg.AuditLog, cfg.HistoryDB)
	}
}

func TestLoadAndOverrideRemoteRequiresTLSPathsUnlessInsecure(t *testing.T) {
	_, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "",
		"collector.example.com:4443", "", "", "",
		false, false, false, false, false, false, false)
	if err == nil {
		t.Fatal("want error when --to-remote is set without cert/key/ca or --remote-insecure")
	}
}

func TestLoadAndOverrideRemoteInsecureSkipsTLSPaths(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "",
		"collector.example.com:4443", "", "", "",
		false, false, false, false, false, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Remote.Insecure {
		t.Fatal("want Remote.Insecure true")
	}
	if cfg.Remote.SpoolPath == "" {
		t.Fatal("want Remote.SpoolPath defaulted")
	}
}

func TestLoadAndOverrideRemoteFlagsSetConfig(t *testing.T) {
	cfg, err := loadAndOverride("", "trace.bin", "fw.elf", "", "", "", "", "",
		"collector.example.com:4443", "client.crt", "client.key", "ca.pem",
		false, false, false, false, false, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.Addr != "collector.example.com:4443" {
		t.Fatalf("want remote addr set, got %q", cfg.Remote.Addr)
	}
	if cfg.Remote.CertPath != "client.crt" || cfg.Remote.KeyPath != "client.key" || cfg.Remote.CAPath != "ca.pem" {
		t.Fatalf("want TLS paths set, got %+v", cfg.Remote)
	}
}
