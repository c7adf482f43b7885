// Package pipeline implements the Orchestrator described in §4.H: it
// parses configuration, constructs the Bus, attaches each enabled Sink,
// spawns the Reconstructor as a producer, spawns one consumer task per
// Sink, joins all tasks, and propagates the first error.
package pipeline

import (
	"context"
	"crypto/sha256"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rvtrace/rvtrace/internal/bus"
	"github.com/rvtrace/rvtrace/internal/config"
	"github.com/rvtrace/rvtrace/internal/disasm"
	"github.com/rvtrace/rvtrace/internal/gcov"
	"github.com/rvtrace/rvtrace/internal/sink"
	"github.com/rvtrace/rvtrace/internal/sink/remote"
	"github.com/rvtrace/rvtrace/internal/trace"
	"github.com/rvtrace/rvtrace/internal/unwind"
)

// Run executes one complete decode: it builds the Disassembly Index from
// cfg.Binary, attaches every Sink cfg.Sinks enables, drives the
// Reconstructor over cfg.EncodedTrace to completion, and returns the
// first error encountered by the producer or any consumer (§4.H, §5).
func Run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	f, err := elf.Open(cfg.Binary)
	if err != nil {
		return fmt.Errorf("pipeline: open binary %q: %w", cfg.Binary, err)
	}
	defer f.Close()

	idx, err := disasm.Build(f, disasm.RV64GC{})
	if err != nil {
		return fmt.Errorf("pipeline: build disassembly index: %w", err)
	}
	log.Info("disassembly index built", slog.Int("instructions", len(idx.Addresses())))

	src, err := os.Open(cfg.EncodedTrace)
	if err != nil {
		return fmt.Errorf("pipeline: open encoded trace %q: %w", cfg.EncodedTrace, err)
	}
	defer src.Close()

	b := bus.New[trace.Event](bus.DefaultCapacity)

	sinks, closers, err := buildSinks(ctx, cfg, f, idx, log)
	if err != nil {
		return fmt.Errorf("pipeline: build sinks: %w", err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	type attached struct {
		s  sink.Sink
		ch <-chan trace.Event
	}
	var attachments []attached
	for _, s := range sinks {
		attachments = append(attachments, attached{s: s, ch: b.Subscribe()})
	}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer b.Close()
		r := trace.New(idx, src, b)
		if err := r.Run(); err != nil {
			return fmt.Errorf("pipeline: reconstructor: %w", err)
		}
		return nil
	})

	for _, a := range attachments {
		a := a
		g.Go(func() error {
			return sink.Run(a.ch, a.s)
		})
	}

	return g.Wait()
}

// closer is any resource a sink holds open across the run (typically its
// output file) that must be closed once Flush has completed.
type closer interface {
	Close() error
}

// outputPaths reports, in attachment order, the artifact path each
// enabled sink will write to — the pure naming-scheme decision
// buildSinks otherwise entangles with real file creation.
func outputPaths(cfg *config.Config) []string {
	var paths []string
	if cfg.Sinks.Txt {
		paths = append(paths, cfg.DecodedTrace)
	}
	if cfg.Sinks.JSON {
		paths = append(paths, cfg.DecodedTrace+".json")
	}
	if cfg.Sinks.Afdo {
		paths = append(paths, cfg.DecodedTrace+".afdo")
	}
	if cfg.Sinks.Gcda {
		paths = append(paths, cfg.DecodedTrace+".gcda")
	}
	if cfg.Sinks.Speedscope {
		paths = append(paths, cfg.DecodedTrace+".speedscope.json")
	}
	if cfg.Sinks.Vpp {
		paths = append(paths, cfg.DecodedTrace+".vpp.json")
	}
	return paths
}

func buildSinks(ctx context.Context, cfg *config.Config, f *elf.File, idx *disasm.Index, log *slog.Logger) ([]sink.Sink, []closer, error) {
	var sinks []sink.Sink
	var closers []closer

	paths := outputPaths(cfg)
	next := 0
	open := func() (*os.File, error) {
		path := paths[next]
		next++
		out, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create %q: %w", path, err)
		}
		closers = append(closers, out)
		return out, nil
	}

	if cfg.Sinks.Txt {
		out, err := open()
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink.NewTxt(out))
	}

	if cfg.Sinks.JSON {
		out, err := open()
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink.NewJSON(out))
	}

	if cfg.Sinks.Afdo {
		out, err := open()
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink.NewAfdo(out, idx.Base()))
	}

	if cfg.Sinks.Gcda {
		gcnoFile, err := os.Open(cfg.Gcno)
		if err != nil {
			return nil, nil, fmt.Errorf("open gcno %q: %w", cfg.Gcno, err)
		}
		defer gcnoFile.Close()
		cfgTree, err := gcov.Read(gcnoFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read gcno %q: %w", cfg.Gcno, err)
		}

		out, err := open()
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink.NewGCDA(out, cfgTree, nil, functionSymbols(f), 0, 0))
	}

	if cfg.Sinks.Speedscope {
		out, err := open()
		if err != nil {
			return nil, nil, err
		}
		u, err := unwind.New(f, idx, nil, log)
		if err != nil {
			return nil, nil, fmt.Errorf("build unwinder for speedscope: %w", err)
		}
		sinks = append(sinks, sink.NewSpeedscope(out, u))
	}

	if cfg.Sinks.Vpp {
		out, err := open()
		if err != nil {
			return nil, nil, err
		}
		u, err := unwind.New(f, idx, nil, log)
		if err != nil {
			return nil, nil, fmt.Errorf("build unwinder for vpp: %w", err)
		}
		sinks = append(sinks, sink.NewVpp(out, u))
	}

	if cfg.HistoryDB != "" {
		meta, err := buildRunMeta(cfg)
		if err != nil {
			return nil, nil, err
		}
		h, err := sink.NewHistoryDB(cfg.HistoryDB, meta, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("open history db %q: %w", cfg.HistoryDB, err)
		}
		closers = append(closers, h)
		sinks = append(sinks, h)
	}

	if cfg.Remote.Enabled() {
		data, err := os.ReadFile(cfg.Binary)
		if err != nil {
			return nil, nil, fmt.Errorf("read binary %q for remote sink: %w", cfg.Binary, err)
		}
		sum := sha256.Sum256(data)

		r, err := remote.New(ctx, remote.Config{
			Addr:      cfg.Remote.Addr,
			CertPath:  cfg.Remote.CertPath,
			KeyPath:   cfg.Remote.KeyPath,
			CAPath:    cfg.Remote.CAPath,
			SpoolPath: cfg.Remote.SpoolPath,
			Insecure:  cfg.Remote.Insecure,
		}, cfg.Binary, hex.EncodeToString(sum[:]), log)
		if err != nil {
			return nil, nil, fmt.Errorf("start remote sink: %w", err)
		}
		closers = append(closers, r)
		sinks = append(sinks, r)
	}

	log.Info("sinks attached", slog.Int("count", len(sinks)))
	return sinks, closers, nil
}

// buildRunMeta hashes cfg.Binary and lists the enabled sinks, producing
// the history-db "runs" row for this invocation.
func buildRunMeta(cfg *config.Config) (sink.RunMeta, error) {
	data, err := os.ReadFile(cfg.Binary)
	if err != nil {
		return sink.RunMeta{}, fmt.Errorf("read binary %q for history db: %w", cfg.Binary, err)
	}
	sum := sha256.Sum256(data)

	return sink.RunMeta{
		BinaryPath:       cfg.Binary,
		BinarySHA256:     hex.EncodeToString(sum[:]),
		EncodedTracePath: cfg.EncodedTrace,
		SinksEnabled:     enabledSinkNames(cfg),
		StartedAt:        time.Now(),
	}, nil
}

// enabledSinkNames lists the sinks cfg enables, in the same attachment
// order outputPaths uses.
func enabledSinkNames(cfg *config.Config) []string {
	var names []string
	if cfg.Sinks.Txt {
		names = append(names, "txt")
	}
	if cfg.Sinks.JSON {
		names = append(names, "json")
	}
	if cfg.Sinks.Afdo {
		names = append(names, "afdo")
	}
	if cfg.Sinks.Gcda {
		names = append(names, "gcda")
	}
	if cfg.Sinks.Speedscope {
		names = append(names, "speedscope")
	}
	if cfg.Sinks.Vpp {
		names = append(names, "vpp")
	}
	return names
}

// functionSymbols extracts STT_FUNC symbol (name, address) pairs from
// f's symbol table, matching the set the gcda sink uses to attribute
// None-event instruction counts to a function's entry ReportedEdge.
func functionSymbols(f *elf.File) []sink.FuncSymbol {
	syms, err := f.Symbols()
	if err != nil && len(syms) == 0 {
		return nil
	}
	out := make([]sink.FuncSymbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		out = append(out, sink.FuncSymbol{Name: s.Name, Addr: s.Value})
	}
	return out
}
