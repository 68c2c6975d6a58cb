package filter

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// BuildPreview derives a human-readable rendering of a response body.
// Any decode or parse failure yields a nil preview, never an error.
func BuildPreview(body string, base64Encoded bool, mimeType string) *types.Preview {
	text := body
	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil
		}
		text = string(decoded)
	}

	mime := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mime, "json"):
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return &types.Preview{Type: "text", Formatted: text}
		}
		pretty, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return &types.Preview{Type: "text", Formatted: text}
		}
		return &types.Preview{Type: "json", Formatted: string(pretty), Parsed: parsed}
	case strings.Contains(mime, "xml"):
		return &types.Preview{Type: "xml", Formatted: text}
	case strings.Contains(mime, "html"):
		return &types.Preview{Type: "html", Formatted: text}
	case strings.Contains(mime, "css"):
		return &types.Preview{Type: "css", Formatted: text}
	case strings.Contains(mime, "javascript"):
		return &types.Preview{Type: "javascript", Formatted: text}
	default:
		return &types.Preview{Type: "text", Formatted: text}
	}
}
