package pipeline

import (
	"reflect"
	"testing"

	"github.com/rvtrace/rvtrace/internal/config"
)

func TestOutputPathsOnlyEnabledSinksInOrder(t *testing.T) {
	cfg := &config.Config{
		DecodedTrace: "out/run.dump",
		Sinks: config.SinksConfig{
			Txt:  true,
			Afdo: true,
			Vpp:  true,
		},
	}
	got := outputPaths(cfg)
	want := []string{"out/run.dump", "out/run.dump.afdo", "out/run.dump.vpp.json"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestOutputPathsEmptyWhenNoSinksEnabled(t *testing.T) {
	cfg := &config.Config{DecodedTrace: "out/run.dump"}
	if got := outputPaths(cfg); len(got) != 0 {
		t.Fatalf("want no paths got %v", got)
	}
}

func TestOutputPathsAllSinks(t *testing.T) {
	cfg := &config.Config{
		DecodedTrace: "run",
		Sinks: config.SinksConfig{
			Txt: true, JSON: true, Afdo: true, Gcda: true, Speedscope: true, Vpp: true,
		},
	}
	want := []string{"run", "run.json", "run.afdo", "run.gcda", "run.speedscope.json", "run.vpp.json"}
	if got := outputPaths(cfg); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEnabledSinkNamesMatchesOutputPathsOrder(t *testing.T) {
	cfg := &config.Config{
		Sinks: config.SinksConfig{Txt: true, Gcda: true, Vpp: true},
	}
	got := enabledSinkNames(cfg)
	want := []string{"txt", "gcda", "vpp"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEnabledSinkNamesEmptyWhenNoneEnabled(t *testing.T) {
	if got := enabledSinkNames(&config.Config{}); len(got) != 0 {
		t.Fatalf("want no names got %v", got)
	}
}
