// Package statepatcher applies JSON-Patch operations to the client-held
// "shared state" document the editstate/getstate/validatestate tools
// operate on, and infers a deep-link URL back into the platform when a
// known top-level key changes. Grounded in
// original_source/.../tools/editstate.py.
package statepatcher

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Operation is one RFC 6902 JSON-Patch operation. From uses the JSON tag
// "from" to mirror the wire field name (editstate.py's JSONPatchOperation
// aliases the Python keyword-colliding field the same way).
type Operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	From  string          `json:"from,omitempty"`
}

// Patcher applies patches to a shared-state document and infers return URLs.
type Patcher struct {
	urlBuilders map[string]URLBuilder
}

// URLBuilder constructs the deep-link URL for one top-level state key, given
// the lab/project path segments already present in the caller's current
// frontend URL and the changed key's new value.
type URLBuilder func(vlabID, projectID string, value json.RawMessage, currentURL string) (string, bool)

// New builds a Patcher with the given per-key URL builders (e.g.
// "smc_simulation_config" -> a builder pointing at the circuit simulation
// configuration page, the one case editstate.py implements).
func New(urlBuilders map[string]URLBuilder) *Patcher {
	return &Patcher{urlBuilders: urlBuilders}
}

// Apply applies ops to state sequentially via RFC 6902 semantics, returning
// the resulting document and the URLs inferred for any known top-level keys
// the patches touched.
func (p *Patcher) Apply(state json.RawMessage, ops []Operation, currentURL string) (json.RawMessage, []string, error) {
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, nil, fmt.Errorf("statepatcher: marshal ops: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("statepatcher: decode patch: %w", err)
	}
	result, err := patch.Apply(state)
	if err != nil {
		return nil, nil, fmt.Errorf("statepatcher: apply patch: %w", err)
	}

	touched := touchedTopLevelKeys(ops)
	vlabID, projectID := pathLabAndProject(currentURL)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(result, &doc); err != nil {
		return result, nil, nil
	}

	var urls []string
	for key := range touched {
		builder, ok := p.urlBuilders[key]
		if !ok {
			continue
		}
		value, ok := doc[key]
		if !ok {
			continue
		}
		if link, emit := builder(vlabID, projectID, value, currentURL); emit {
			urls = append(urls, link)
		}
	}
	return result, urls, nil
}

// touchedTopLevelKeys extracts the first path segment of every patch's
// "path" (and "from" for move/copy), mirroring editstate.py's inspection of
// which top-level state keys a batch of patches changed.
func touchedTopLevelKeys(ops []Operation) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, op := range ops {
		if k := firstSegment(op.Path); k != "" {
			keys[k] = struct{}{}
		}
		if k := firstSegment(op.From); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func firstSegment(pointer string) string {
	trimmed := strings.TrimPrefix(pointer, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// pathLabAndProject parses a frontend URL of the shape
// /app/virtual-lab/{vlab-id}/{project-id}/... , returning empty strings if
// the URL does not match (grounded in editstate.py's get_return_url).
func pathLabAndProject(currentURL string) (vlabID, projectID string) {
	u, err := url.Parse(currentURL)
	if err != nil {
		return "", ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 4 || segments[0] != "app" || segments[1] != "virtual-lab" {
		return "", ""
	}
	return segments[2], segments[3]
}

// SimulationConfigURLBuilder builds the deep-link for the
// "smc_simulation_config" key: a circuit simulation configuration page,
// unless the caller is already on that exact page for the same circuit id
// (editstate.py's is_correct_simulation_page).
func SimulationConfigURLBuilder(vlabID, projectID string, value json.RawMessage, currentURL string) (string, bool) {
	if vlabID == "" || projectID == "" {
		return "", false
	}
	var cfg struct {
		CircuitID string `json:"circuit_id"`
	}
	if err := json.Unmarshal(value, &cfg); err != nil || cfg.CircuitID == "" {
		return "", false
	}
	target := fmt.Sprintf("/app/virtual-lab/%s/%s/workflows/simulate/configure/circuit/%s", vlabID, projectID, cfg.CircuitID)
	if isCorrectSimulationPage(currentURL, target) {
		return "", false
	}
	return target + "?x-request-id=" + requestIDFromURL(currentURL), true
}

func isCorrectSimulationPage(currentURL, target string) bool {
	u, err := url.Parse(currentURL)
	if err != nil {
		return false
	}
	return strings.TrimSuffix(u.Path, "/") == target
}

func requestIDFromURL(currentURL string) string {
	u, err := url.Parse(currentURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("x-request-id")
}
