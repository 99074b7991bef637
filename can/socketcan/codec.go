package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arloliu/go-uds/can"
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

// can_id flag bits, see linux/can.h.
const (
	effFlag uint32 = 0x80000000
	rtrFlag uint32 = 0x40000000
	errFlag uint32 = 0x20000000
	sffMask uint32 = 0x000007FF
)

var errSkipFrame = errors.New("socketcan: not a standard data frame")

// encodeFrame lays f out as struct can_frame in host byte order.
func encodeFrame(f *can.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, frameSize)
	binary.NativeEndian.PutUint32(buf[0:4], f.ID&sffMask)
	buf[4] = f.Len
	copy(buf[8:], f.Payload())

	return buf, nil
}

// decodeFrame parses struct can_frame. Extended, RTR and error frames
// yield errSkipFrame.
func decodeFrame(buf []byte) (*can.Frame, error) {
	if len(buf) < frameSize {
		return nil, fmt.Errorf("socketcan: short frame read: %d bytes", len(buf))
	}

	rawID := binary.NativeEndian.Uint32(buf[0:4])
	if rawID&(effFlag|rtrFlag|errFlag) != 0 {
		return nil, errSkipFrame
	}

	dlc := buf[4]
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}

	f := &can.Frame{ID: rawID & sffMask, Len: dlc}
	copy(f.Data[:], buf[8:8+int(dlc)])

	return f, nil
}
