package observability

import (
	"strings"
	"unicode"

	"github.com/farmstall/api/internal/platform/textutil"
)

const (
	routeLimit    = 180
	methodLimit   = 10
	deviceIDLimit = 64
	addrLimit     = 64
)

// clean drops control characters so request-supplied values cannot forge log lines, then caps the rune count.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	return textutil.Truncate(value, limit)
}

// SanitizeRoute cleans a route or path for span names and log fields.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, routeLimit)
}

// SanitizeMethod cleans an HTTP method.
func SanitizeMethod(method string) string {
	return strings.ToUpper(clean(method, methodLimit))
}

// SanitizeDeviceID cleans a device id taken from a token subject.
func SanitizeDeviceID(id string) string {
	return clean(strings.TrimSpace(id), deviceIDLimit)
}
