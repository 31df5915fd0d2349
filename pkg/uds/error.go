package uds

import (
	"errors"
	"fmt"
)

const (
	GENERAL_REJECT                                 = 0x10
	SERVICE_NOT_SUPPORTED                          = 0x11
	SUBFUNCTION_NOT_SUPPORTED                      = 0x12
	INCORRECT_MESSAGE_LENGTH_OR_INVALID_FORMAT     = 0x13
	RESPONSE_TOO_LONG                              = 0x14
	BUSY_REPEAT_REQUEST                            = 0x21
	CONDITIONS_NOT_CORRECT                         = 0x22
	REQUEST_SEQUENCE_ERROR                         = 0x24
	NO_RESPONSE_FROM_SUBNET_COMPONENT              = 0x25
	FAILURE_PREVENTS_EXECUTION                     = 0x26
	REQUEST_OUT_OF_RANGE                           = 0x31
	SECURITY_ACCESS_DENIED                         = 0x33
	INVALID_KEY                                    = 0x35
	EXCEED_NUMBER_OF_ATTEMPTS                      = 0x36
	REQUIRED_TIME_DELAY_NOT_EXPIRED                = 0x37
	UPLOAD_DOWNLOAD_NOT_ACCEPTED                   = 0x70
	TRANSFER_DATA_SUSPENDED                        = 0x71
	GENERAL_PROGRAMMING_FAILURE                    = 0x72
	WRONG_BLOCK_SEQUENCE_COUNTER                   = 0x73
	REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING    = 0x78
	SUBFUNCTION_NOT_SUPPORTED_IN_ACTIVE_SESSION    = 0x7E
	SERVICE_NOT_SUPPORTED_IN_ACTIVE_SESSION        = 0x7F
	RPM_TOO_HIGH                                   = 0x81
	RPM_TOO_LOW                                    = 0x82
	ENGINE_IS_RUNNING                              = 0x83
	ENGINE_IS_NOT_RUNNING                          = 0x84
	VOLTAGE_TOO_HIGH                               = 0x92
	VOLTAGE_TOO_LOW                                = 0x93
)

var (
	ErrGeneralReject                          = &NegativeResponseError{GENERAL_REJECT, "General reject"}
	ErrServiceNotSupported                    = &NegativeResponseError{SERVICE_NOT_SUPPORTED, "Service not supported"}
	ErrSubFunctionNotSupported                = &NegativeResponseError{SUBFUNCTION_NOT_SUPPORTED, "Sub-function not supported"}
	ErrIncorrectMessageLengthOrInvalidFormat  = &NegativeResponseError{INCORRECT_MESSAGE_LENGTH_OR_INVALID_FORMAT, "Incorrect message length or invalid format"}
	ErrResponseTooLong                        = &NegativeResponseError{RESPONSE_TOO_LONG, "Response too long"}
	ErrBusyRepeatRequest                      = &NegativeResponseError{BUSY_REPEAT_REQUEST, "Busy, repeat request"}
	ErrConditionsNotCorrect                   = &NegativeResponseError{CONDITIONS_NOT_CORRECT, "Conditions not correct"}
	ErrRequestSequenceError                   = &NegativeResponseError{REQUEST_SEQUENCE_ERROR, "Request sequence error"}
	ErrNoResponseFromSubnetComponent          = &NegativeResponseError{NO_RESPONSE_FROM_SUBNET_COMPONENT, "No response from subnet component"}
	ErrFailurePreventsExecution               = &NegativeResponseError{FAILURE_PREVENTS_EXECUTION, "Failure prevents execution of requested action"}
	ErrRequestOutOfRange                      = &NegativeResponseError{REQUEST_OUT_OF_RANGE, "Request out of range"}
	ErrSecurityAccessDenied                   = &NegativeResponseError{SECURITY_ACCESS_DENIED, "Security access denied"}
	ErrInvalidKey                             = &NegativeResponseError{INVALID_KEY, "Invalid key supplied"}
	ErrExceedNumberOfAttempts                 = &NegativeResponseError{EXCEED_NUMBER_OF_ATTEMPTS, "Exceeded number of attempts to get security access"}
	ErrRequiredTimeDelayNotExpired            = &NegativeResponseError{REQUIRED_TIME_DELAY_NOT_EXPIRED, "Required time delay not expired, you cannot gain security access at this moment"}
	ErrUploadDownloadNotAccepted              = &NegativeResponseError{UPLOAD_DOWNLOAD_NOT_ACCEPTED, "Upload/download not accepted"}
	ErrTransferDataSuspended                  = &NegativeResponseError{TRANSFER_DATA_SUSPENDED, "Transfer data suspended"}
	ErrGeneralProgrammingFailure              = &NegativeResponseError{GENERAL_PROGRAMMING_FAILURE, "General programming failure"}
	ErrWrongBlockSequenceCounter              = &NegativeResponseError{WRONG_BLOCK_SEQUENCE_COUNTER, "Wrong block sequence counter"}
	ErrResponsePending                        = &NegativeResponseError{REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING, "Response pending"}
	ErrSubFunctionNotSupportedInActiveSession = &NegativeResponseError{SUBFUNCTION_NOT_SUPPORTED_IN_ACTIVE_SESSION, "Sub-function not supported in active session"}
	ErrServiceNotSupportedInActiveSession     = &NegativeResponseError{SERVICE_NOT_SUPPORTED_IN_ACTIVE_SESSION, "Service not supported in active session"}
)

// NegativeResponseError is the typed form of a UDS NRC.
type NegativeResponseError struct {
	Code byte
	Msg  string
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("%s (0x%02X)", e.Msg, e.Code)
}

// TranslateErrorCode maps an NRC byte to its sentinel error value; nil
// for 0x00.
func TranslateErrorCode(p byte) error {
	switch p {
	case 0x00:
		return nil
	case GENERAL_REJECT:
		return ErrGeneralReject
	case SERVICE_NOT_SUPPORTED:
		return ErrServiceNotSupported
	case SUBFUNCTION_NOT_SUPPORTED:
		return ErrSubFunctionNotSupported
	case INCORRECT_MESSAGE_LENGTH_OR_INVALID_FORMAT:
		return ErrIncorrectMessageLengthOrInvalidFormat
	case RESPONSE_TOO_LONG:
		return ErrResponseTooLong
	case BUSY_REPEAT_REQUEST:
		return ErrBusyRepeatRequest
	case CONDITIONS_NOT_CORRECT:
		return ErrConditionsNotCorrect
	case REQUEST_SEQUENCE_ERROR:
		return ErrRequestSequenceError
	case NO_RESPONSE_FROM_SUBNET_COMPONENT:
		return ErrNoResponseFromSubnetComponent
	case FAILURE_PREVENTS_EXECUTION:
		return ErrFailurePreventsExecution
	case REQUEST_OUT_OF_RANGE:
		return ErrRequestOutOfRange
	case SECURITY_ACCESS_DENIED:
		return ErrSecurityAccessDenied
	case INVALID_KEY:
		return ErrInvalidKey
	case EXCEED_NUMBER_OF_ATTEMPTS:
		return ErrExceedNumberOfAttempts
	case REQUIRED_TIME_DELAY_NOT_EXPIRED:
		return ErrRequiredTimeDelayNotExpired
	case UPLOAD_DOWNLOAD_NOT_ACCEPTED:
		return ErrUploadDownloadNotAccepted
	case TRANSFER_DATA_SUSPENDED:
		return ErrTransferDataSuspended
	case GENERAL_PROGRAMMING_FAILURE:
		return ErrGeneralProgrammingFailure
	case WRONG_BLOCK_SEQUENCE_COUNTER:
		return ErrWrongBlockSequenceCounter
	case REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING:
		return ErrResponsePending
	case SUBFUNCTION_NOT_SUPPORTED_IN_ACTIVE_SESSION:
		return ErrSubFunctionNotSupportedInActiveSession
	case SERVICE_NOT_SUPPORTED_IN_ACTIVE_SESSION:
		return ErrServiceNotSupportedInActiveSession
	default:
		return &NegativeResponseError{p, "Unknown negative response"}
	}
}

// IsNegativeResponse reports whether err carries an NRC and returns it.
func IsNegativeResponse(err error) (byte, bool) {
	var nre *NegativeResponseError
	if errors.As(err, &nre) {
		return nre.Code, true
	}
	return 0, false
}

// IsSecurityDenied reports whether err is one of the security access
// NRCs (0x33, 0x35, 0x36, 0x37).
func IsSecurityDenied(err error) bool {
	code, ok := IsNegativeResponse(err)
	if !ok {
		return false
	}
	switch code {
	case SECURITY_ACCESS_DENIED, INVALID_KEY, EXCEED_NUMBER_OF_ATTEMPTS, REQUIRED_TIME_DELAY_NOT_EXPIRED:
		return true
	}
	return false
}

// IsServiceNotSupported reports whether the server rejected the service
// outright, used to pick fallbacks such as DID based flash verification.
func IsServiceNotSupported(err error) bool {
	code, ok := IsNegativeResponse(err)
	if !ok {
		return false
	}
	return code == SERVICE_NOT_SUPPORTED || code == SERVICE_NOT_SUPPORTED_IN_ACTIVE_SESSION
}
