package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sunnymar/codepod/internal/network"
)

// NetworkPayloadCap is the maximum request/response body on the network
// bridge channel (spec.md §4.6): 16 MiB.
const NetworkPayloadCap = 16 * 1024 * 1024

// NewNetworkBridge builds the main/worker -> network-worker channel. Its
// only op is fetchSync: a full synchronous HTTP round trip, host-policy
// checked on every redirect hop by the Fetcher itself.
func NewNetworkBridge(fetcher *network.Fetcher) *Channel {
	return New("network-bridge", NetworkPayloadCap, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		if op != "fetchSync" {
			return nil, nil, fmt.Errorf("network-bridge: unknown op %q", op)
		}
		method, _ := meta["method"].(string)
		url, _ := meta["url"].(string)
		headers := map[string]string{}
		if raw, ok := meta["headers"].(map[string]any); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
		}
		var timeout time.Duration
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		resp, err := fetcher.Do(network.Request{
			Method:  method,
			URL:     url,
			Headers: headers,
			Body:    bin,
			Timeout: timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		respMeta := map[string]any{
			"status":  resp.Status,
			"headers": resp.Headers,
		}
		return respMeta, resp.Body, nil
	})
}
