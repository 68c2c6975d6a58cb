package storage

import "testing"

func TestHostSegmentFromURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"plain_host", "https://example.com/path", "example.com"},
		{"host_with_port", "https://example.com:8443/path", "example.com_8443"},
		{"no_host", "not-a-url", "unknown-host"},
		{"empty", "", "unknown-host"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HostSegmentFromURL(tc.url); got != tc.want {
				t.Fatalf("HostSegmentFromURL(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestMapResourceType(t *testing.T) {
	cases := []struct {
		resourceType string
		want         string
	}{
		{"XHR", ""},
		{"Fetch", ""},
		{"WebSocket", ""},
		{"Script", "js"},
		{"Stylesheet", "css"},
		{"Image", "img"},
		{"Document", "docs"},
		{"SignedExchange", "other"},
	}
	for _, tc := range cases {
		if got := MapResourceType(tc.resourceType); got != tc.want {
			t.Fatalf("MapResourceType(%q) = %q, want %q", tc.resourceType, got, tc.want)
		}
	}
}

func TestFilenameFromURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"file_in_path", "https://example.com/static/app.js", "app.js"},
		{"trailing_slash", "https://example.com/static/", "static"},
		{"bare_host", "https://example.com", "resource"},
		{"query_ignored", "https://example.com/img/logo.png?v=2", "logo.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FilenameFromURL(tc.url); got != tc.want {
				t.Fatalf("FilenameFromURL(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}
