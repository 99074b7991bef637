package can

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// MaxDataLen is the payload capacity of a classic CAN frame.
const MaxDataLen = 8

// MaxStdID is the largest 11-bit standard identifier.
const MaxStdID = 0x7FF

// Frame is one classic CAN frame with a standard identifier.
//
// Only the first Len bytes of Data are meaningful; the rest are zero.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [MaxDataLen]byte
}

// NewFrame builds a frame from an identifier and payload.
func NewFrame(id uint32, payload []byte) (*Frame, error) {
	if id > MaxStdID {
		return nil, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	if len(payload) > MaxDataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}

	f := &Frame{ID: id, Len: uint8(len(payload))} //nolint:gosec // bounded above
	copy(f.Data[:], payload)

	return f, nil
}

// Payload returns the meaningful bytes of the frame. The slice aliases f.Data.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}

	return f.Data[:n]
}

// Pad extends the frame to the full 8 bytes; the added bytes are zero.
func (f *Frame) Pad() {
	for i := int(f.Len); i < MaxDataLen; i++ {
		f.Data[i] = 0
	}
	f.Len = MaxDataLen
}

// Validate reports whether the frame fits a classic standard CAN frame.
func (f *Frame) Validate() error {
	if f.ID > MaxStdID {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	if f.Len > MaxDataLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, f.Len)
	}

	return nil
}

// String renders the frame in candump compact form, e.g. "7DF#2701".
func (f *Frame) String() string {
	return fmt.Sprintf("%03X#%s", f.ID, strings.ToUpper(hex.EncodeToString(f.Payload())))
}

// ParseFrame parses the candump compact form produced by Frame.String.
func ParseFrame(s string) (*Frame, error) {
	idStr, dataStr, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return nil, fmt.Errorf("can: missing '#' separator in %q", s)
	}

	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("can: invalid identifier %q: %w", idStr, err)
	}

	data, err := hex.DecodeString(strings.ReplaceAll(dataStr, ".", ""))
	if err != nil {
		return nil, fmt.Errorf("can: invalid payload %q: %w", dataStr, err)
	}

	return NewFrame(uint32(id), data)
}
