package launchconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Variable pattern matches ${...} expressions
var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveVariables replaces all ${...} variables in the given text.
func ResolveVariables(text string, ctx *ResolutionContext) (string, error) {
	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	var lastErr error
	result := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1]

		resolved, err := resolveVariable(expr, ctx)
		if err != nil {
			lastErr = err
			return match // Keep original if error
		}
		return resolved
	})

	return result, lastErr
}

// resolveVariable resolves a single variable expression.
func resolveVariable(expr string, ctx *ResolutionContext) (string, error) {
	switch {
	case expr == "workspaceFolder":
		return ctx.WorkspaceFolder, nil

	case expr == "workspaceFolderBasename":
		return filepath.Base(ctx.WorkspaceFolder), nil

	case expr == "file":
		return ctx.CurrentFile, nil

	case expr == "fileBasename":
		return filepath.Base(ctx.CurrentFile), nil

	case expr == "fileDirname":
		return filepath.Dir(ctx.CurrentFile), nil

	case expr == "fileBasenameNoExtension":
		base := filepath.Base(ctx.CurrentFile)
		return strings.TrimSuffix(base, filepath.Ext(base)), nil

	case expr == "fileExtname":
		return filepath.Ext(ctx.CurrentFile), nil

	case expr == "relativeFile":
		if ctx.WorkspaceFolder != "" && ctx.CurrentFile != "" {
			if rel, err := filepath.Rel(ctx.WorkspaceFolder, ctx.CurrentFile); err == nil {
				return rel, nil
			}
		}
		return ctx.CurrentFile, nil

	case expr == "userHome":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil

	case expr == "cwd":
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get cwd: %w", err)
		}
		return cwd, nil

	case expr == "pathSeparator":
		return string(os.PathSeparator), nil

	case strings.HasPrefix(expr, "env:"):
		varName := strings.TrimPrefix(expr, "env:")
		if val, ok := ctx.EnvOverrides[varName]; ok {
			return val, nil
		}
		return os.Getenv(varName), nil

	case strings.HasPrefix(expr, "config:"):
		return resolveConfigVariable(strings.TrimPrefix(expr, "config:"), ctx.WorkspaceFolder)

	case strings.HasPrefix(expr, "input:"):
		inputID := strings.TrimPrefix(expr, "input:")
		if val, ok := ctx.InputValues[inputID]; ok {
			return val, nil
		}
		return "", fmt.Errorf("missing input value for ${input:%s}", inputID)

	default:
		return "", fmt.Errorf("unknown variable: ${%s}", expr)
	}
}

// resolveConfigVariable reads a VS Code setting from .vscode/settings.json.
func resolveConfigVariable(settingID, workspaceFolder string) (string, error) {
	if workspaceFolder == "" {
		return "", fmt.Errorf("workspaceFolder required for ${config:} variables")
	}

	data, err := os.ReadFile(filepath.Join(workspaceFolder, VSCodeDirName, "settings.json"))
	if err != nil {
		// VS Code would fall back to the default
		return "", nil
	}

	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		return "", fmt.Errorf("failed to parse settings.json: %w", err)
	}

	// Flat keys ("lua.debug.port") win over nested objects
	if v, ok := settings[settingID]; ok {
		return settingString(v), nil
	}
	var current interface{} = settings
	for _, part := range strings.Split(settingID, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", nil
		}
		current = m[part]
	}
	return settingString(current), nil
}

func settingString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}

// ResolveStringField resolves variables in a single string field.
func ResolveStringField(value string, ctx *ResolutionContext) (string, error) {
	if value == "" {
		return "", nil
	}
	return ResolveVariables(value, ctx)
}

// FindRequiredInputs scans a text for ${input:...} variables and returns their IDs.
func FindRequiredInputs(text string) []string {
	var inputs []string
	seen := make(map[string]bool)

	for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
		expr := match[1]
		if !strings.HasPrefix(expr, "input:") {
			continue
		}
		inputID := strings.TrimPrefix(expr, "input:")
		if !seen[inputID] {
			seen[inputID] = true
			inputs = append(inputs, inputID)
		}
	}
	return inputs
}

// FindAllRequiredInputsInConfig scans the string fields of a configuration for ${input:} variables.
func FindAllRequiredInputsInConfig(cfg *DebugConfiguration) []string {
	var inputs []string
	seen := make(map[string]bool)

	for _, text := range []string{cfg.Cwd, cfg.LuaFileExtension, cfg.ConnectionIP, cfg.Program, cfg.Trace} {
		for _, id := range FindRequiredInputs(text) {
			if !seen[id] {
				seen[id] = true
				inputs = append(inputs, id)
			}
		}
	}
	return inputs
}

// ValidateInputsProvided returns the required inputs missing from inputValues.
func ValidateInputsProvided(cfg *DebugConfiguration, inputValues map[string]string) []string {
	var missing []string
	for _, id := range FindAllRequiredInputsInConfig(cfg) {
		if _, ok := inputValues[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
