package retry

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// StatusCoder is implemented by errors that know the upstream HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

var (
	statusPattern = regexp.MustCompile(`HTTP (\d{3})`)
	codePattern   = regexp.MustCompile(`code=(\d+)`)
)

// HTTPStatus extracts the upstream HTTP status from err, or 0 if none is known.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatusCode(); code > 0 {
			return code
		}
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return 0
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return code
}

// IsRetryable reports whether a failure is likely transient. Errors without a
// parseable status are treated as retryable.
func IsRetryable(err error) bool {
	status := HTTPStatus(err)
	switch {
	case status == 0:
		return true
	case status >= 500, status == 429, status == 408:
		return true
	default:
		return false
	}
}

// ErrorCode returns the provider error code embedded in err, falling back to
// http_<status>.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if m := codePattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		return m[1]
	}
	if status := HTTPStatus(err); status > 0 {
		return fmt.Sprintf("http_%d", status)
	}
	return ""
}
