package chunk

// Wire header layout: [indexLow, indexHigh, payload...].
const (
	HeaderSize = 2 // little-endian uint16 frame index

	// TerminatorIndex marks the end of an image. It never carries payload
	// and is never a valid ordinary frame index.
	TerminatorIndex uint16 = 0xFFFF

	// StartIndex is both the start marker and the first payload-bearing frame.
	StartIndex uint16 = 0x0000

	// MaxFrameIndex is the highest ordinary frame index a sender may use.
	MaxFrameIndex uint16 = 0xFFFE
)

// MaxImageSize is the per-image ceiling; a transfer growing past it is aborted.
const MaxImageSize = 200 * 1024

// Link limits. Notifications from the camera are bounded by the negotiated
// ATT MTU; the camera firmware sends 200 payload bytes per frame.
const (
	DefaultPayloadSize = 200
	MaxNotificationLen = 512
)

// Capture commands written to the control characteristic (one byte each).
// Values 1..254 request a capture every N seconds.
const (
	CommandStop       byte = 0x00
	CommandSingleShot byte = 0xFF

	MinCaptureInterval = 1   // seconds
	MaxCaptureInterval = 254 // seconds
)
