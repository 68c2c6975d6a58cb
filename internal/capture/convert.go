package capture

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

func headerMapToStringMap(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}

// headerLookup finds a header value case-insensitively.
func headerLookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// decodePostData reassembles the raw post body from the event's
// base64-encoded entries. Entries that fail to decode are kept as-is.
func decodePostData(req *network.Request) string {
	if req == nil || !req.HasPostData || len(req.PostDataEntries) == 0 {
		return ""
	}
	var parts []byte
	for _, entry := range req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			parts = append(parts, []byte(entry.Bytes)...)
		} else {
			parts = append(parts, decoded...)
		}
	}
	return string(parts)
}

func initiatorDescriptor(in *network.Initiator) string {
	if in == nil {
		return ""
	}
	if in.URL != "" {
		return string(in.Type) + ":" + in.URL
	}
	return string(in.Type)
}

func responseData(resp *network.Response) *types.ResponseData {
	if resp == nil {
		return nil
	}
	return &types.ResponseData{
		Status:            int(resp.Status),
		StatusText:        resp.StatusText,
		Headers:           headerMapToStringMap(resp.Headers),
		MimeType:          resp.MimeType,
		FromCache:         resp.FromDiskCache || resp.FromPrefetchCache,
		FromServiceWorker: resp.FromServiceWorker,
		Protocol:          resp.Protocol,
		RemoteIPAddress:   resp.RemoteIPAddress,
		RemotePort:        resp.RemotePort,
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
