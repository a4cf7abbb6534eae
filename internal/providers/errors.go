package providers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// statusHints maps status codes to the substrings SDK errors render them as.
var statusHints = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusBadRequest,
	http.StatusPaymentRequired,
}

// extractErrorMetadata pulls the HTTP status and Retry-After value out of a
// provider error. Typed SDK errors are preferred; the message text is the
// fallback for SDKs that only stringify the response.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	var httpStatus int
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		httpStatus = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		httpStatus = reqErr.HTTPStatusCode
	}

	errStr := err.Error()
	if httpStatus == 0 {
		for _, code := range statusHints {
			if strings.Contains(errStr, http.StatusText(code)) || strings.Contains(errStr, strconv.Itoa(code)) {
				httpStatus = code
				break
			}
		}
	}

	return httpStatus, retryAfterFrom(errStr)
}

func retryAfterFrom(errStr string) string {
	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		idx := strings.Index(lower, marker)
		if idx == -1 {
			continue
		}
		remaining := strings.TrimLeft(errStr[idx+len(marker):], ": ")
		if parts := strings.Fields(remaining); len(parts) > 0 {
			return strings.TrimRight(parts[0], ",;.")
		}
	}
	return ""
}
