// Package can defines the classic CAN frame and the Transport port that the
// diagnostic engines in go-uds talk through.
//
// Only 11-bit standard identifiers and payloads of up to 8 bytes are modeled.
// Concrete transports live in sub-packages:
//
//   - [github.com/arloliu/go-uds/can/socketcan]: Linux SocketCAN raw sockets.
//   - [github.com/arloliu/go-uds/can/virtual]: in-process buses for tests and simulation.
package can
