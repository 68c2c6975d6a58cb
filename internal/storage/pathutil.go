package storage

import (
	"net/url"
	stdpath "path"
	"strings"
)

// HostSegmentFromURL returns a filesystem-safe directory segment for
// the URL's host, so mirrored resources group by origin.
func HostSegmentFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown-host"
	}
	host := strings.ReplaceAll(parsed.Host, ":", "_")
	return host
}

// MapResourceType maps a CDP resource type to a static resource
// directory. Empty means API/event traffic that stays in JSONL only.
func MapResourceType(resourceType string) string {
	switch resourceType {
	case "XHR", "Fetch", "WebSocket", "EventSource", "Ping", "Preflight":
		return ""
	case "Script":
		return "js"
	case "Stylesheet":
		return "css"
	case "Image":
		return "img"
	case "Font":
		return "font"
	case "Media":
		return "media"
	case "Document":
		return "docs"
	case "Manifest":
		return "manifest"
	default:
		return "other"
	}
}

// FilenameFromURL extracts a usable filename from the URL path.
func FilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "resource"
	}
	filename := stdpath.Base(parsed.Path)
	if filename == "" || filename == "." || filename == "/" {
		return "resource"
	}
	return filename
}
