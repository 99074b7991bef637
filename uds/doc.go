// Package uds implements the client side of the UDS (ISO 14229) SecurityAccess
// service (0x27) over a classic CAN bus.
//
// # Protocol Overview
//
// SecurityAccess is a two-round challenge-response exchange:
//
//  1. The tester sends requestSeed (27 01) on the functional request ID.
//  2. The ECU answers 67 01 <seed> on its response ID.
//  3. The tester derives a key from the seed and sends it (27 02 <key...>).
//  4. The ECU answers 67 02 (unlocked) or 7F 27 <NRC> (denied).
//
// The Engine drives this exchange as a strict state machine
//
//	Idle -> SeedRequested -> SeedReceived -> KeySent -> Resolved
//
// and polls the can.Transport in short slices inside its own deadline, so the
// transport's bounded Receive is the only place it ever blocks.
//
// # Key Derivation
//
// The key algorithm is a pluggable KeyAlgorithm. Two XOR based policies ship
// with the package: a single-byte key (seed ^ C) and a three-byte key
// ((seed+i) ^ C for i = 0,1,2). Neither is meant to be secure.
//
// # Concurrency
//
// Responses carry no transaction tag, so two exchanges on the same bus cannot
// be told apart. Engine.Run therefore holds a per-channel lock for the whole
// exchange; engines on different channels run independently.
package uds
