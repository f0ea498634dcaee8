package types

// ErrorCode is the closed enumeration of per-recipient error strings the
// gateway is known to return. Anything outside this set classifies as
// presumptively permanent.
type ErrorCode string

const (
	ErrorUnavailable         ErrorCode = "Unavailable"
	ErrorInvalidRegistration ErrorCode = "InvalidRegistration"
	ErrorNotRegistered       ErrorCode = "NotRegistered"
	ErrorMismatchSenderID    ErrorCode = "MismatchSenderId"
	ErrorMissingRegistration ErrorCode = "MissingRegistration"
	ErrorMessageTooBig       ErrorCode = "MessageTooBig"
	ErrorInvalidTTL          ErrorCode = "InvalidTtl"
	ErrorInvalidDataKey      ErrorCode = "InvalidDataKey"
	ErrorInvalidPackageName  ErrorCode = "InvalidPackageName"
	ErrorInternalServerError ErrorCode = "InternalServerError"
)

// Classification is what the relay should do with a per-recipient error.
type Classification int

const (
	// ClassificationNone: no error present.
	ClassificationNone Classification = iota
	// ClassificationRetryable: transient gateway-side condition; log only,
	// the message is not requeued under at-most-once claim semantics.
	ClassificationRetryable
	// ClassificationDropUser: the token is dead or unusable; mark the user
	// invalid.
	ClassificationDropUser
	// ClassificationLogOnly: sender-side or gateway-side defect unrelated to
	// device validity; log and move on.
	ClassificationLogOnly
)

// Classify maps an error code to the action the relay takes. Unrecognized
// codes fall through to ClassificationDropUser: an unclassified gateway
// error is treated as permanent.
func (c ErrorCode) Classify() Classification {
	switch c {
	case "":
		return ClassificationNone
	case ErrorUnavailable:
		return ClassificationRetryable
	case ErrorInvalidRegistration, ErrorNotRegistered, ErrorMismatchSenderID:
		return ClassificationDropUser
	case ErrorMissingRegistration, ErrorMessageTooBig, ErrorInvalidTTL,
		ErrorInvalidDataKey, ErrorInvalidPackageName, ErrorInternalServerError:
		return ClassificationLogOnly
	default:
		return ClassificationDropUser
	}
}
