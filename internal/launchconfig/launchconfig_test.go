package launchconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ctagard/luahook/internal/config"
	"github.com/ctagard/luahook/pkg/types"
)

const sampleLaunchJSON = `{
	"version": "0.2.0",
	"configurations": [
		{
			"type": "lua",
			"request": "launch",
			"name": "LuaPanda",
			"cwd": "${workspaceFolder}/scripts",
			"luaFileExtension": "lua",
			"connectionPort": 8818,
			"stopOnEntry": true,
			"logLevel": 0,
			"pathCaseSensitivity": false,
			"autoPathMode": true,
			"trace": "${workspaceFolder}/${input:traceName}",
			"useCHook": true
		},
		{
			"type": "python",
			"request": "launch",
			"name": "Python: Current File",
			"program": "${file}"
		}
	]
}`

// writeWorkspace creates <tmp>/.vscode/launch.json and returns the workspace root
func writeWorkspace(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	vscodeDir := filepath.Join(root, VSCodeDirName)
	if err := os.MkdirAll(vscodeDir, 0755); err != nil {
		t.Fatalf("failed to create .vscode dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vscodeDir, LaunchJSONFileName), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write launch.json: %v", err)
	}
	return root
}

func TestLoadAndDiscover(t *testing.T) {
	root := writeWorkspace(t, sampleLaunchJSON)
	nested := filepath.Join(root, "src", "game")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	lj, path, err := LoadAndDiscover(nested)
	if err != nil {
		t.Fatalf("LoadAndDiscover failed: %v", err)
	}
	if path != filepath.Join(root, VSCodeDirName, LaunchJSONFileName) {
		t.Errorf("unexpected path %s", path)
	}
	if len(lj.Configurations) != 2 {
		t.Fatalf("expected 2 configurations, got %d", len(lj.Configurations))
	}

	cfg := lj.Configurations[0]
	if !cfg.IsLuaType() || cfg.ConnectionPort != 8818 || cfg.StopOnEntry == nil || !*cfg.StopOnEntry {
		t.Errorf("unexpected configuration %+v", cfg)
	}
	if cfg.Extra["useCHook"] != true {
		t.Errorf("expected useCHook in Extra, got %v", cfg.Extra)
	}
	if GetWorkspaceFolder(path) != filepath.ToSlash(root) {
		t.Errorf("unexpected workspace folder %s", GetWorkspaceFolder(path))
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadFromPath("/nonexistent/launch.json"); err == nil {
		t.Error("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "launch.json")
	if err := os.WriteFile(path, []byte(`{invalid`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected error for invalid JSON")
	}

	if _, err := Discover(t.TempDir()); err == nil {
		t.Error("expected discovery to fail without a .vscode directory")
	}
}

func TestValidateConfiguration(t *testing.T) {
	level := func(n int) *int { return &n }
	tests := []struct {
		name    string
		cfg     DebugConfiguration
		wantErr bool
	}{
		{"valid", DebugConfiguration{Name: "a", Type: "lua", Request: "launch"}, false},
		{"luapanda type", DebugConfiguration{Name: "a", Type: "LuaPanda", Request: "attach"}, false},
		{"missing name", DebugConfiguration{Type: "lua", Request: "launch"}, true},
		{"foreign type", DebugConfiguration{Name: "a", Type: "go", Request: "launch"}, true},
		{"bad request", DebugConfiguration{Name: "a", Type: "lua", Request: "run"}, true},
		{"bad log level", DebugConfiguration{Name: "a", Type: "lua", Request: "launch", LogLevel: level(3)}, true},
		{"bad port", DebugConfiguration{Name: "a", Type: "lua", Request: "launch", ConnectionPort: 70000}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConfiguration(&tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateConfiguration() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestResolveVariables(t *testing.T) {
	ctx := &ResolutionContext{
		WorkspaceFolder: "/work/game",
		CurrentFile:     "/work/game/src/main.lua",
		InputValues:     map[string]string{"trace": "run.jsonl"},
		EnvOverrides:    map[string]string{"LUA_PORT": "9000"},
	}
	tests := []struct {
		in, want string
	}{
		{"${workspaceFolder}/src", "/work/game/src"},
		{"${workspaceFolderBasename}", "game"},
		{"${fileBasename}", "main.lua"},
		{"${fileBasenameNoExtension}", "main"},
		{"${fileExtname}", ".lua"},
		{"${relativeFile}", "src/main.lua"},
		{"${env:LUA_PORT}", "9000"},
		{"${input:trace}", "run.jsonl"},
		{"plain", "plain"},
	}
	for _, tc := range tests {
		got, err := ResolveVariables(tc.in, ctx)
		if err != nil {
			t.Errorf("ResolveVariables(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolveVariables(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	got, err := ResolveVariables("${nope}", ctx)
	if err == nil || got != "${nope}" {
		t.Errorf("unknown variables must be kept and reported, got %q, %v", got, err)
	}
}

func TestResolveConfigVariable(t *testing.T) {
	root := writeWorkspace(t, `{"configurations": []}`)
	settings := `{"luahook.port": 8820, "lua": {"debug": {"ext": ".txt"}}}`
	if err := os.WriteFile(filepath.Join(root, VSCodeDirName, "settings.json"), []byte(settings), 0644); err != nil {
		t.Fatal(err)
	}
	ctx := &ResolutionContext{WorkspaceFolder: root}

	if got, _ := ResolveVariables("${config:luahook.port}", ctx); got != "8820" {
		t.Errorf("flat setting = %q", got)
	}
	if got, _ := ResolveVariables("${config:lua.debug.ext}", ctx); got != ".txt" {
		t.Errorf("nested setting = %q", got)
	}
	if got, _ := ResolveVariables("${config:lua.missing}", ctx); got != "" {
		t.Errorf("missing setting = %q", got)
	}
}

func TestResolveConfiguration(t *testing.T) {
	root := writeWorkspace(t, sampleLaunchJSON)
	lj, err := LoadFromPath(filepath.Join(root, VSCodeDirName, LaunchJSONFileName))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := FindConfiguration(lj, "LuaPanda")
	if err != nil {
		t.Fatal(err)
	}

	_, err = ResolveConfiguration(cfg, &ResolutionContext{WorkspaceFolder: "/w"})
	missing, ok := IsMissingInputsError(err)
	if !ok || len(missing.Inputs) != 1 || missing.Inputs[0] != "traceName" {
		t.Fatalf("expected missing traceName, got %v", err)
	}

	resolved, err := ResolveConfiguration(cfg, &ResolutionContext{
		WorkspaceFolder: "/w",
		InputValues:     map[string]string{"traceName": "t.jsonl"},
	})
	if err != nil {
		t.Fatalf("ResolveConfiguration failed: %v", err)
	}
	if resolved.Cwd != "/w/scripts" || resolved.Trace != "/w/t.jsonl" {
		t.Errorf("unexpected resolution %+v", resolved.DebugConfiguration)
	}
	if cfg.Cwd != "${workspaceFolder}/scripts" {
		t.Error("resolution must not modify the loaded configuration")
	}

	if _, err := FindConfiguration(lj, "missing"); err == nil {
		t.Error("expected an error for an unknown configuration")
	}
	python, _ := FindConfiguration(lj, "Python: Current File")
	if _, err := ResolveConfiguration(python, nil); err == nil {
		t.Error("non-Lua configurations must be rejected")
	}
}

func TestApply(t *testing.T) {
	yes, no, verbose := true, false, 0
	resolved := &ResolvedConfiguration{
		DebugConfiguration: &DebugConfiguration{
			Name:                "a",
			Type:                "lua",
			Request:             "launch",
			LuaFileExtension:    "lua",
			PathCaseSensitivity: &no,
			AutoPathMode:        &yes,
			StopOnEntry:         &yes,
			LogLevel:            &verbose,
			ConnectionPort:      9000,
		},
		WorkspaceFolder: "/w",
	}

	cfg := config.DefaultConfig()
	if err := resolved.Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.Cwd != "/w" || cfg.FileExtension != ".lua" {
		t.Errorf("unexpected path settings %q %q", cfg.Cwd, cfg.FileExtension)
	}
	if cfg.PathCaseSensitive || cfg.PathMode != config.PathModeBasename {
		t.Errorf("unexpected path mode %v %s", cfg.PathCaseSensitive, cfg.PathMode)
	}
	if !cfg.StopOnEntry || cfg.LogLevel != types.LogLevelVerbose {
		t.Errorf("unexpected behaviour settings %+v", cfg)
	}
	if cfg.Peer.Address != "127.0.0.1:9000" {
		t.Errorf("unexpected peer address %s", cfg.Peer.Address)
	}

	unset := &ResolvedConfiguration{DebugConfiguration: &DebugConfiguration{Name: "b", Type: "lua", Request: "attach"}}
	cfg = config.DefaultConfig()
	if err := unset.Apply(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Peer.Address != config.DefaultConfig().Peer.Address || !cfg.PathCaseSensitive {
		t.Errorf("unset fields must keep the defaults: %+v", cfg)
	}
}

func TestListConfigurations(t *testing.T) {
	root := writeWorkspace(t, sampleLaunchJSON)
	lj, _, err := LoadAndDiscover(root)
	if err != nil {
		t.Fatal(err)
	}
	infos := ListConfigurations(lj)
	if len(infos) != 2 || !infos[0].Lua || infos[1].Lua {
		t.Errorf("unexpected infos %+v", infos)
	}
	if errs := ValidateLaunchJSON(lj); len(errs) != 1 {
		t.Errorf("expected the python configuration to be reported, got %v", errs)
	}
	if names := ListConfigurationNames(lj); names[0] != "LuaPanda" {
		t.Errorf("unexpected names %v", names)
	}
}
