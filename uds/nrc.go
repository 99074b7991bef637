package uds

import "fmt"

// NRC is a UDS negative response code (ISO 14229-1 Annex A.1).
type NRC byte

// Negative response codes an ECU may return for SecurityAccess.
const (
	NRCGeneralReject                          NRC = 0x10
	NRCServiceNotSupported                    NRC = 0x11
	NRCSubFunctionNotSupported                NRC = 0x12
	NRCIncorrectMessageLengthOrInvalidFormat  NRC = 0x13
	NRCResponseTooLong                        NRC = 0x14
	NRCBusyRepeatRequest                      NRC = 0x21
	NRCConditionsNotCorrect                   NRC = 0x22
	NRCRequestSequenceError                   NRC = 0x24
	NRCRequestOutOfRange                      NRC = 0x31
	NRCSecurityAccessDenied                   NRC = 0x33
	NRCInvalidKey                             NRC = 0x35
	NRCExceededNumberOfAttempts               NRC = 0x36
	NRCRequiredTimeDelayNotExpired            NRC = 0x37
	NRCResponsePending                        NRC = 0x78
	NRCSubFunctionNotSupportedInActiveSession NRC = 0x7E
	NRCServiceNotSupportedInActiveSession     NRC = 0x7F
)

var nrcNames = map[NRC]string{
	NRCGeneralReject:                          "generalReject",
	NRCServiceNotSupported:                    "serviceNotSupported",
	NRCSubFunctionNotSupported:                "subFunctionNotSupported",
	NRCIncorrectMessageLengthOrInvalidFormat:  "incorrectMessageLengthOrInvalidFormat",
	NRCResponseTooLong:                        "responseTooLong",
	NRCBusyRepeatRequest:                      "busyRepeatRequest",
	NRCConditionsNotCorrect:                   "conditionsNotCorrect",
	NRCRequestSequenceError:                   "requestSequenceError",
	NRCRequestOutOfRange:                      "requestOutOfRange",
	NRCSecurityAccessDenied:                   "securityAccessDenied",
	NRCInvalidKey:                             "invalidKey",
	NRCExceededNumberOfAttempts:               "exceededNumberOfAttempts",
	NRCRequiredTimeDelayNotExpired:            "requiredTimeDelayNotExpired",
	NRCResponsePending:                        "requestCorrectlyReceivedResponsePending",
	NRCSubFunctionNotSupportedInActiveSession: "subFunctionNotSupportedInActiveSession",
	NRCServiceNotSupportedInActiveSession:     "serviceNotSupportedInActiveSession",
}

// Name returns the ISO 14229 mnemonic, or "unknown" for unlisted codes.
func (n NRC) Name() string {
	if name, ok := nrcNames[n]; ok {
		return name
	}

	return "unknown"
}

func (n NRC) String() string {
	return fmt.Sprintf("%s (0x%02X)", n.Name(), byte(n))
}
