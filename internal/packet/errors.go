package packet

import (
	"errors"

	"github.com/rvtrace/rvtrace/internal/rverr"
)

// ErrFormat is an alias for the shared Format error kind (§7), kept local
// so existing callers can keep writing packet.ErrFormat(...).
type ErrFormat = rverr.Format

// ErrEndOfStream signals a clean end of the packet stream: the caller
// should stop reading, not treat it as a format violation.
var ErrEndOfStream = errors.New("packet: end of stream")
