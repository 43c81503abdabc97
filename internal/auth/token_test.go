package auth

import (
	"net/http"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  string
	}{
		{"standard scheme", "Bearer abc", "abc"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"mixed case scheme", "BeArEr abc", "abc"},
		{"bare token", "abc", "abc"},
		{"surrounding whitespace", "  Bearer abc  ", "abc"},
		{"empty", "", ""},
		{"scheme only", "Bearer ", ""},
		{"token starting with bearer", "bearertoken", "bearertoken"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BearerToken(tc.value); got != tc.want {
				t.Errorf("BearerToken(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestTokenFromHeaderCaseInsensitive(t *testing.T) {
	h := http.Header{}
	h.Set("aUtHoRiZaTiOn", "Bearer abc")

	if got := TokenFromHeader(h); got != "abc" {
		t.Errorf("expected token despite non-canonical header casing, got %q", got)
	}
}

func TestTokenFromHeaderMissing(t *testing.T) {
	if got := TokenFromHeader(http.Header{}); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}

func TestTokenFromMetadata(t *testing.T) {
	md := metadata.Pairs("authorization", "Bearer abc")
	if got := TokenFromMetadata(md); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}

	if got := TokenFromMetadata(metadata.MD{}); got != "" {
		t.Errorf("expected empty token for missing metadata, got %q", got)
	}
}
