package protocol

// ErrorType identifies the type of error carried by an error message.
// Clients switch on it; the human-readable message is informational only.
type ErrorType string

const (
	ErrorUnknown                  ErrorType = "UNKNOWN_ERROR"
	ErrorInvalidMessage           ErrorType = "INVALID_MESSAGE"
	ErrorMessageTooLarge          ErrorType = "MESSAGE_TOO_LARGE"
	ErrorStateValueTooLarge       ErrorType = "STATE_VALUE_TOO_LARGE"
	ErrorUnsupportedSubprotocol   ErrorType = "UNSUPPORTED_WEBSOCKET_SUBPROTOCOL"
	ErrorUserAlreadyAuthenticated ErrorType = "USER_ALREADY_AUTHENTICATED"
	ErrorAuthenticationInProgress ErrorType = "AUTHENTICATION_IN_PROGRESS"
	ErrorAuthenticationFailed     ErrorType = "USER_AUTHENTICATION_FAILED"
	ErrorUserNotAuthenticated     ErrorType = "USER_NOT_AUTHENTICATED"
	ErrorObserverCannotUpdate     ErrorType = "OBSERVER_CANNOT_SEND_STATE_UPDATES"
	ErrorValidationFailed         ErrorType = "VALIDATION_FAILED"
	ErrorInternal                 ErrorType = "INTERNAL_ERROR"
	ErrorRateLimited              ErrorType = "RATE_LIMITED"
	ErrorDisconnectedByServer     ErrorType = "DISCONNECTED_BY_SERVER"
	ErrorServerShutdown           ErrorType = "SERVER_SHUTDOWN"
)

// CloseCodeError is the WebSocket close code sent after an error message.
const CloseCodeError = 4000

// ErrorMessage is sent when an error occurs. The connection is always closed
// right after it; Retryable tells the client whether reconnecting may help.
type ErrorMessage struct {
	ErrorType ErrorType
	Message   string
	Retryable bool
}

// Type implements ServerMessage.
func (*ErrorMessage) Type() MessageType { return MessageError }

// EncodeErrorMessageTo encodes an ErrorMessage payload using the provided encoder.
func EncodeErrorMessageTo(e *Encoder, em *ErrorMessage) {
	e.WriteString(string(em.ErrorType))
	e.WriteString(em.Message)
	e.WriteBool(em.Retryable)
}

// DecodeErrorMessageFrom decodes an ErrorMessage payload from a decoder.
func DecodeErrorMessageFrom(d *Decoder) (*ErrorMessage, error) {
	errorType, err := d.ReadString()
	if err != nil {
		return nil, err
	}

	message, err := d.ReadString()
	if err != nil {
		return nil, err
	}

	retryable, err := d.ReadBool()
	if err != nil {
		return nil, err
	}

	return &ErrorMessage{
		ErrorType: ErrorType(errorType),
		Message:   message,
		Retryable: retryable,
	}, nil
}

// NewError creates a new non-retryable ErrorMessage.
func NewError(errorType ErrorType, message string) *ErrorMessage {
	return &ErrorMessage{
		ErrorType: errorType,
		Message:   message,
	}
}

// NewRetryableError creates a new retryable ErrorMessage.
func NewRetryableError(errorType ErrorType, message string) *ErrorMessage {
	return &ErrorMessage{
		ErrorType: errorType,
		Message:   message,
		Retryable: true,
	}
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	if em.Retryable {
		return string(em.ErrorType) + " (retryable): " + em.Message
	}
	return string(em.ErrorType) + ": " + em.Message
}
