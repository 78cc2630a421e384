// Package camera reads frames from live video sources and recovers from
// stream failures with a bounded, fixed-delay reconnect loop.
package camera

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one captured image.
type Frame struct {
	Seq          uint64
	Timestamp    time.Time
	Width        int
	Height       int
	Data         []byte // JPEG encoded
	SourceStream string
	TraceID      uuid.UUID
}
