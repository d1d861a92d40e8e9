package transport

import "fmt"

// FrameKind identifies the websocket frame type a Frame was built from.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FramePing
	FramePong
	FrameClose
	// FrameControl covers any other low-level frame an adapter chooses to
	// report (continuation or reserved opcodes).
	FrameControl
)

// Sentinel texts produced by Normalize for non-text frames.
const (
	SentinelBinary  = "binary"
	SentinelPing    = "ping"
	SentinelPong    = "pong"
	SentinelClose   = "close"
	SentinelControl = "frame"
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return SentinelBinary
	case FramePing:
		return SentinelPing
	case FramePong:
		return SentinelPong
	case FrameClose:
		return SentinelClose
	case FrameControl:
		return SentinelControl
	default:
		return fmt.Sprintf("frame-kind(%d)", int(k))
	}
}

// Frame is one inbound websocket frame.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Normalize renders a frame for the text-only Reader contract: text frames
// pass through verbatim, every other kind collapses to its sentinel and
// its payload is dropped.
//
// A text frame whose content is literally "binary" is indistinguishable
// from a binary frame after normalization; use FrameReader when that
// matters.
func Normalize(f Frame) string {
	if f.Kind == FrameText {
		return string(f.Payload)
	}
	if f.Kind >= FrameBinary && f.Kind <= FrameControl {
		return f.Kind.String()
	}
	return SentinelControl
}
