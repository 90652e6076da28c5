package domain

import "errors"

var (
	ErrInvalidOption     = errors.New("invalid option")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEncodeFailure     = errors.New("encode failure")
)

// ErrorKind names the failure class of err for callers that report it to users.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidOption):
		return "InvalidOption"
	case errors.Is(err, ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, ErrEncodeFailure):
		return "EncodeFailure"
	default:
		return "Internal"
	}
}
