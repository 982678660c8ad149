package statepatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyReplacesAndReturnsResult(t *testing.T) {
	p := New(nil)
	state := json.RawMessage(`{"counter":1}`)
	ops := []Operation{{Op: "replace", Path: "/counter", Value: json.RawMessage("2")}}

	result, urls, err := p.Apply(state, ops, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"counter":2}`, string(result))
	require.Empty(t, urls)
}

func TestApplyInfersSimulationConfigURL(t *testing.T) {
	p := New(map[string]URLBuilder{"smc_simulation_config": SimulationConfigURLBuilder})
	state := json.RawMessage(`{}`)
	ops := []Operation{{
		Op:    "add",
		Path:  "/smc_simulation_config",
		Value: json.RawMessage(`{"circuit_id":"circuit-1"}`),
	}}

	result, urls, err := p.Apply(state, ops, "https://platform.example/app/virtual-lab/vlab-1/proj-1/home?x-request-id=req-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"smc_simulation_config":{"circuit_id":"circuit-1"}}`, string(result))
	require.Len(t, urls, 1)
	require.Equal(t, "/app/virtual-lab/vlab-1/proj-1/workflows/simulate/configure/circuit/circuit-1?x-request-id=req-1", urls[0])
}

func TestApplySkipsURLWhenAlreadyOnTargetPage(t *testing.T) {
	p := New(map[string]URLBuilder{"smc_simulation_config": SimulationConfigURLBuilder})
	state := json.RawMessage(`{}`)
	ops := []Operation{{
		Op:    "add",
		Path:  "/smc_simulation_config",
		Value: json.RawMessage(`{"circuit_id":"circuit-1"}`),
	}}

	currentURL := "https://platform.example/app/virtual-lab/vlab-1/proj-1/workflows/simulate/configure/circuit/circuit-1"
	_, urls, err := p.Apply(state, ops, currentURL)
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestApplyIgnoresUntouchedKeys(t *testing.T) {
	p := New(map[string]URLBuilder{"smc_simulation_config": SimulationConfigURLBuilder})
	state := json.RawMessage(`{"other_key":1}`)
	ops := []Operation{{Op: "replace", Path: "/other_key", Value: json.RawMessage("2")}}

	_, urls, err := p.Apply(state, ops, "")
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestApplyRejectsInvalidPatch(t *testing.T) {
	p := New(nil)
	state := json.RawMessage(`{}`)
	ops := []Operation{{Op: "remove", Path: "/missing"}}

	_, _, err := p.Apply(state, ops, "")
	require.Error(t, err)
}

func TestTouchedTopLevelKeysCoversFromAndPath(t *testing.T) {
	keys := touchedTopLevelKeys([]Operation{
		{Op: "move", Path: "/a/b", From: "/c/d"},
		{Op: "add", Path: "/e"},
	})
	require.Contains(t, keys, "a")
	require.Contains(t, keys, "c")
	require.Contains(t, keys, "e")
}
