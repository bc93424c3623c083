package launchconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// LaunchJSONFileName is the standard name for VS Code launch configuration file.
	LaunchJSONFileName = "launch.json"
	// VSCodeDirName is the VS Code configuration directory name.
	VSCodeDirName = ".vscode"
)

// LoadFromPath loads a launch.json file from an explicit path.
func LoadFromPath(path string) (*LaunchJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch.json: %w", err)
	}

	var lj LaunchJSON
	if err := json.Unmarshal(data, &lj); err != nil {
		return nil, fmt.Errorf("failed to parse launch.json: %w", err)
	}

	return &lj, nil
}

// Discover searches for a .vscode/launch.json file starting from the given path
// and walking up the directory tree until found or reaching the root.
func Discover(startPath string) (string, error) {
	if startPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		startPath = cwd
	}

	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		absPath = filepath.Dir(absPath)
	}

	current := absPath
	for {
		launchPath := filepath.Join(current, VSCodeDirName, LaunchJSONFileName)
		if _, err := os.Stat(launchPath); err == nil {
			return launchPath, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("no %s/%s found in %s or parent directories", VSCodeDirName, LaunchJSONFileName, startPath)
}

// LoadAndDiscover combines discovery and loading: finds a launch.json from the start path
// and loads it.
func LoadAndDiscover(startPath string) (*LaunchJSON, string, error) {
	path, err := Discover(startPath)
	if err != nil {
		return nil, "", err
	}

	lj, err := LoadFromPath(path)
	if err != nil {
		return nil, "", err
	}

	return lj, path, nil
}

// FindConfiguration finds a configuration by name in the LaunchJSON.
func FindConfiguration(lj *LaunchJSON, name string) (*DebugConfiguration, error) {
	for i := range lj.Configurations {
		if lj.Configurations[i].Name == name {
			return &lj.Configurations[i], nil
		}
	}
	return nil, fmt.Errorf("configuration %q not found", name)
}

// ListConfigurationNames returns a list of all configuration names.
func ListConfigurationNames(lj *LaunchJSON) []string {
	names := make([]string, len(lj.Configurations))
	for i, cfg := range lj.Configurations {
		names[i] = cfg.Name
	}
	return names
}

// ConfigurationInfo provides summary information about a configuration.
type ConfigurationInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Request string `json:"request"`
	Lua     bool   `json:"lua"`
}

// ListConfigurations returns summary information about all configurations.
func ListConfigurations(lj *LaunchJSON) []ConfigurationInfo {
	infos := make([]ConfigurationInfo, len(lj.Configurations))
	for i, cfg := range lj.Configurations {
		infos[i] = ConfigurationInfo{
			Name:    cfg.Name,
			Type:    cfg.Type,
			Request: cfg.Request,
			Lua:     cfg.IsLuaType(),
		}
	}
	return infos
}

// FindInput finds an input configuration by ID.
func FindInput(lj *LaunchJSON, id string) (*InputConfig, error) {
	for i := range lj.Inputs {
		if lj.Inputs[i].ID == id {
			return &lj.Inputs[i], nil
		}
	}
	return nil, fmt.Errorf("input %q not found", id)
}

// GetWorkspaceFolder derives the workspace folder from the launch.json path.
// The workspace folder is the parent of the .vscode directory.
func GetWorkspaceFolder(launchJSONPath string) string {
	vscodeDir := filepath.Dir(launchJSONPath)
	return filepath.ToSlash(filepath.Dir(vscodeDir))
}

// ValidateConfiguration performs basic validation on a configuration.
func ValidateConfiguration(cfg *DebugConfiguration) error {
	if cfg.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if !cfg.IsLuaType() {
		return fmt.Errorf("configuration type must be \"lua\" or \"LuaPanda\", got %q", cfg.Type)
	}
	if cfg.Request != "launch" && cfg.Request != "attach" {
		return fmt.Errorf("configuration request must be 'launch' or 'attach', got %q", cfg.Request)
	}
	if cfg.LogLevel != nil && (*cfg.LogLevel < 0 || *cfg.LogLevel > 2) {
		return fmt.Errorf("logLevel must be 0, 1 or 2, got %d", *cfg.LogLevel)
	}
	if cfg.ConnectionPort < 0 || cfg.ConnectionPort > 65535 {
		return fmt.Errorf("connectionPort out of range: %d", cfg.ConnectionPort)
	}
	return nil
}

// ValidateLaunchJSON validates every Lua configuration; other types are
// reported once each.
func ValidateLaunchJSON(lj *LaunchJSON) []error {
	var errs []error
	for i, cfg := range lj.Configurations {
		if err := ValidateConfiguration(&cfg); err != nil {
			errs = append(errs, fmt.Errorf("configuration[%d]: %w", i, err))
		}
	}
	return errs
}
