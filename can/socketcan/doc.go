// Package socketcan implements can.Transport on Linux SocketCAN raw sockets
// (AF_CAN / CAN_RAW), e.g. a physical "can0" or a virtual "vcan0" interface.
//
// Receive waits on poll(2) with the caller's bound, so it never blocks longer
// than requested. Extended, remote and error frames are skipped because the
// diagnostic engines only speak 11-bit data frames.
package socketcan
