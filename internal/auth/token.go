package auth

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// BearerToken extracts the raw token from an Authorization header value.
// It accepts a "Bearer <token>" prefix (scheme match is case-insensitive)
// or a bare token when the caller omits the scheme.
func BearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}

// TokenFromHeader extracts the bearer token from HTTP request headers.
// net/http canonicalizes header keys, so the lookup is case-insensitive.
func TokenFromHeader(h http.Header) string {
	return BearerToken(h.Get("Authorization"))
}

// TokenFromMetadata extracts the bearer token from gRPC stream metadata.
// gRPC lower-cases metadata keys on the wire.
func TokenFromMetadata(md metadata.MD) string {
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	return BearerToken(values[0])
}
