package errs

import "errors"

// CodedError is a domain error that carries a stable code for the API layer.
type CodedError struct {
	Message string
	Code    string
}

func (e *CodedError) Error() string { return e.Message }

// Is matches any CodedError with the same code.
func (e *CodedError) Is(target error) bool {
	var t *CodedError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first CodedError in err's chain, or "".
func CodeOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
