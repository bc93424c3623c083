package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/luahook/internal/config"
	"github.com/ctagard/luahook/internal/version"
)

const trace = `{"event":"line","source":"@main.lua","line":1,"what":"main"}
{"event":"call","name":"add","source":"@lib.lua","line":3,"defined":3,"last_defined":6}
{"event":"line","source":"@lib.lua","line":4,"defined":3,"last_defined":6,"locals":{"a":1,"b":2}}
{"event":"line","source":"@lib.lua","line":5,"defined":3,"last_defined":6,"locals":{"a":1,"b":2}}
{"event":"return","source":"@lib.lua","line":5,"defined":3,"last_defined":6}
`

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "run.jsonl"), []byte(trace), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Cwd = root
	s := NewServer(cfg, zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s, root
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned a protocol error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func decode(t *testing.T, text string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, text)
	}
	return m
}

func TestHookReplayAndInspect(t *testing.T) {
	s, root := newTestServer(t)

	text, isErr := call(t, s.handleHookReplay, map[string]any{
		"trace":       filepath.Join(root, "run.jsonl"),
		"breakpoints": `{"lib.lua": [{"line": 4}, {"line": 5, "logMessage": "sum={a+b}"}]}`,
		"actions":     "continue",
	})
	if isErr {
		t.Fatalf("hook_replay failed: %s", text)
	}
	result := decode(t, text)
	sess := result["session"].(map[string]any)
	id := sess["sessionId"].(string)
	if sess["status"] != "completed" || sess["stops"] != float64(1) {
		t.Errorf("unexpected session %v", sess)
	}
	stops := result["stops"].([]any)
	if len(stops) != 1 || stops[0].(map[string]any)["line"] != float64(4) {
		t.Errorf("unexpected stops %v", stops)
	}

	text, isErr = call(t, s.handleHookOutput, map[string]any{"sessionId": id})
	if isErr || !strings.Contains(text, "sum=3") {
		t.Errorf("log point output missing: %s", text)
	}
	text, _ = call(t, s.handleHookOutput, map[string]any{"sessionId": id, "tail": float64(1)})
	if lines := decode(t, text)["lines"].([]any); len(lines) != 1 {
		t.Errorf("expected one tail line, got %v", lines)
	}

	text, isErr = call(t, s.handleHookStatus, map[string]any{"sessionId": id})
	if isErr || decode(t, text)["stats"].(map[string]any)["events"] != float64(5) {
		t.Errorf("unexpected status %s", text)
	}

	text, _ = call(t, s.handleHookListSessions, map[string]any{})
	if list := decode(t, text)["sessions"].([]any); len(list) != 1 {
		t.Errorf("expected one session, got %v", list)
	}

	text, isErr = call(t, s.handleHookSelectLevel, map[string]any{"sessionId": id, "level": "full"})
	if !isErr || !strings.Contains(text, "already finished") {
		t.Errorf("level selection on a finished replay must fail, got %s", text)
	}

	if text, isErr = call(t, s.handleHookEnd, map[string]any{"sessionId": id}); isErr {
		t.Fatalf("hook_end failed: %s", text)
	}
	if text, isErr = call(t, s.handleHookStatus, map[string]any{"sessionId": id}); !isErr || !strings.Contains(text, "not found") {
		t.Errorf("expected an unknown session, got %s", text)
	}
}

func TestHookReplayErrors(t *testing.T) {
	s, root := newTestServer(t)
	path := filepath.Join(root, "run.jsonl")

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing trace", map[string]any{}, "required parameter 'trace'"},
		{"bad breakpoints", map[string]any{"trace": path, "breakpoints": "[1"}, "invalid JSON in parameter 'breakpoints'"},
		{"bad action", map[string]any{"trace": path, "actions": "jump"}, "invalid value for parameter 'action'"},
		{"missing file", map[string]any{"trace": filepath.Join(root, "none.jsonl")}, "cannot open trace"},
		{"unknown config", map[string]any{"configName": "nope", "workspace": root}, "failed to load launch.json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, isErr := call(t, s.handleHookReplay, tc.args)
			if !isErr || !strings.Contains(text, tc.want) {
				t.Errorf("expected %s, got %s", tc.want, text)
			}
		})
	}
}

func TestHookReplayFromLaunchConfig(t *testing.T) {
	s, root := newTestServer(t)
	vscode := filepath.Join(root, ".vscode")
	if err := os.MkdirAll(vscode, 0o755); err != nil {
		t.Fatal(err)
	}
	launch := `{"version": "0.2.0", "configurations": [{
		"type": "lua", "request": "launch", "name": "Replay",
		"cwd": "${workspaceFolder}", "stopOnEntry": true,
		"trace": "${workspaceFolder}/${input:trace}"
	}]}`
	if err := os.WriteFile(filepath.Join(vscode, "launch.json"), []byte(launch), 0o644); err != nil {
		t.Fatal(err)
	}

	text, isErr := call(t, s.handleHookReplay, map[string]any{"configName": "Replay", "workspace": root})
	if !isErr || !strings.Contains(text, "inputValues") {
		t.Errorf("expected a missing input error, got %s", text)
	}

	text, isErr = call(t, s.handleHookReplay, map[string]any{
		"configName":  "Replay",
		"workspace":   root,
		"inputValues": `{"trace": "run.jsonl"}`,
	})
	if isErr {
		t.Fatalf("hook_replay failed: %s", text)
	}
	stops := decode(t, text)["stops"].([]any)
	if len(stops) != 1 || stops[0].(map[string]any)["reason"] != "stopOnEntry" {
		t.Errorf("expected the entry stop from the configuration, got %v", stops)
	}

	text, isErr = call(t, s.handleHookListConfigs, map[string]any{"workspace": root})
	if isErr || !strings.Contains(text, `"name":"Replay"`) {
		t.Errorf("unexpected config list %s", text)
	}
}

func TestHookVersion(t *testing.T) {
	s, _ := newTestServer(t)
	text, isErr := call(t, s.handleHookVersion, map[string]any{})
	if isErr {
		t.Fatal(text)
	}
	m := decode(t, text)
	if m["version"] != version.Version || m["protocolVersion"] != version.ProtocolVersion {
		t.Errorf("unexpected version result %v", m)
	}
	if _, ok := m["adapter"]; ok {
		t.Error("no adapter check without an adapterVersion")
	}

	text, isErr = call(t, s.handleHookVersion, map[string]any{"adapterVersion": "2.0.0"})
	if isErr {
		t.Fatal(text)
	}
	adapter, ok := decode(t, text)["adapter"].(map[string]any)
	if !ok || adapter["compatible"] != false || adapter["known"] != true {
		t.Errorf("expected an incompatible adapter, got %s", text)
	}
}
