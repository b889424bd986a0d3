package urlutil

import (
	"net/url"
	"strings"
	"testing"
)

func TestHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://Example.COM/path", "example.com"},
		{"https://sub.example.com:8080/", "sub.example.com"},
		{"not a url ://", ""},
	}
	for _, tt := range tests {
		if got := Host(tt.in); got != tt.want {
			t.Errorf("Host(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsHTTP(t *testing.T) {
	if !IsHTTP("http://a.test/") || !IsHTTP("https://a.test/") {
		t.Error("expected http/https to pass")
	}
	for _, bad := range []string{"ftp://a.test/", "mailto:x@a.test", "javascript:void(0)"} {
		if IsHTTP(bad) {
			t.Errorf("expected %q to fail the scheme filter", bad)
		}
	}
}

func TestNormalize_StripsFragment(t *testing.T) {
	if got := Normalize("http://a.test/page#section"); got != "http://a.test/page" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://a.test/p/", "/p"},
		{"http://a.test/p", "/p"},
		{"http://a.test/", ""},
		{"http://a.test", ""},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := "http://a.test/" + strings.Repeat("x", MaxURLLength)
	if got := Truncate(long); len(got) != MaxURLLength {
		t.Errorf("expected %d chars, got %d", MaxURLLength, len(got))
	}
	short := "http://a.test/"
	if Truncate(short) != short {
		t.Error("short URL should be unchanged")
	}
}

func TestResolve(t *testing.T) {
	base, _ := url.Parse("http://a.test/dir/page.html")
	tests := []struct {
		href string
		want string
	}{
		{"/abs", "http://a.test/abs"},
		{"rel", "http://a.test/dir/rel"},
		{"http://b.test/x", "http://b.test/x"},
		{"  spaced  ", "http://a.test/dir/spaced"},
	}
	for _, tt := range tests {
		if got := Resolve(base, tt.href); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}
