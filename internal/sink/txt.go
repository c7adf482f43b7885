package sink

import (
	"bufio"
	"fmt"
	"io"

	"github.com/rvtrace/rvtrace/internal/trace"
)

// TxtSink writes one line per event: "{pc:#x}: {mnemonic} {op_str}" for
// None events, "[timestamp: {t}] {kind}" for everything else (§4.G).
type TxtSink struct {
	w *bufio.Writer
}

// NewTxt wraps w in a buffered writer. The caller owns closing w.
func NewTxt(w io.Writer) *TxtSink {
	return &TxtSink{w: bufio.NewWriter(w)}
}

func (s *TxtSink) OnEvent(e trace.Event) error {
	var err error
	if e.Kind == trace.KindNone {
		_, err = fmt.Fprintf(s.w, "%#x: %s %s\n", e.Arc.From, e.Mnemonic, e.OpStr)
	} else {
		_, err = fmt.Fprintf(s.w, "[timestamp: %d] %s\n", e.Timestamp, e.Kind)
	}
	return err
}

func (s *TxtSink) Flush() error {
	return s.w.Flush()
}
