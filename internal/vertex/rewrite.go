// Package vertex adapts the vendor-native messaging API to the Vertex AI
// gateway: it rewrites outgoing requests into Vertex's publisher-model URL
// scheme and resolves GCP bearer tokens for them.
package vertex

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	bridge "github.com/eugener/radagast/internal"
)

// DefaultVersion is the anthropic_version stamped into request bodies that
// do not carry one.
const DefaultVersion = "vertex-2023-10-16"

// Rewrite transforms a vendor-native logical request into its Vertex
// equivalent. It is a pure function: it operates on a deep copy and never
// mutates req. Rules, in order:
//
//   - JSON object bodies get anthropic_version set if absent.
//   - POST /v1/messages (with or without the beta marker) moves the body's
//     model into a publisher-model URL, picking rawPredict or
//     streamRawPredict from the body's stream field.
//   - POST /v1/messages/count_tokens maps to the count-tokens model URL.
//   - Anything under /v1/messages/batches is rejected: Vertex does not
//     expose the Batch API.
func Rewrite(req *bridge.Request, projectID, region string) (*bridge.Request, error) {
	out := req.Clone()

	if out.Body != nil {
		if _, ok := out.Body["anthropic_version"]; !ok {
			out.Body["anthropic_version"] = DefaultVersion
		}
	}

	if out.Method == http.MethodPost && matchesPath(out.Path, bridge.MessagesPath) {
		if projectID == "" {
			return nil, bridge.ErrNoProjectID
		}
		if out.Body == nil {
			return nil, fmt.Errorf("vertex: expected JSON object body for POST %s", bridge.MessagesPath)
		}
		model, ok := out.Body["model"].(string)
		if !ok || model == "" {
			return nil, fmt.Errorf("vertex: request body has no model field")
		}
		delete(out.Body, "model")

		verb := "rawPredict"
		if stream, _ := out.Body["stream"].(bool); stream {
			verb = "streamRawPredict"
		}
		out.Path = modelPath(projectID, region, model) + ":" + verb
	}

	if out.Method == http.MethodPost && matchesPath(out.Path, bridge.CountTokensPath) {
		if projectID == "" {
			return nil, bridge.ErrNoProjectID
		}
		out.Path = modelPath(projectID, region, "count-tokens") + ":rawPredict"
	}

	if strings.HasPrefix(out.Path, bridge.BatchesPathPrefix) {
		return nil, bridge.ErrBatchesNotSupported
	}

	return out, nil
}

// matchesPath reports whether path is exactly base or base with the beta
// query marker.
func matchesPath(path, base string) bool {
	return path == base || path == base+bridge.BetaQueryMarker
}

func modelPath(projectID, region, model string) string {
	return fmt.Sprintf("/projects/%s/locations/%s/publishers/anthropic/models/%s",
		url.PathEscape(projectID), url.PathEscape(region), url.PathEscape(model))
}
