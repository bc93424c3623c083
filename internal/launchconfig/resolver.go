package launchconfig

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ctagard/luahook/internal/config"
	"github.com/ctagard/luahook/pkg/types"
)

// defaultConnectionIP is used when only connectionPort is given
const defaultConnectionIP = "127.0.0.1"

// ResolvedConfiguration is a fully resolved configuration ready for use.
type ResolvedConfiguration struct {
	*DebugConfiguration

	// WorkspaceFolder the variables were resolved against
	WorkspaceFolder string
}

// ResolveConfiguration resolves all variables in a configuration.
func ResolveConfiguration(cfg *DebugConfiguration, ctx *ResolutionContext) (*ResolvedConfiguration, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if ctx == nil {
		ctx = &ResolutionContext{}
	}
	if err := ValidateConfiguration(cfg); err != nil {
		return nil, err
	}

	if missing := ValidateInputsProvided(cfg, ctx.InputValues); len(missing) > 0 {
		return nil, &MissingInputsError{Inputs: missing}
	}

	resolved := *cfg
	fields := []struct {
		name string
		ptr  *string
	}{
		{"cwd", &resolved.Cwd},
		{"luaFileExtension", &resolved.LuaFileExtension},
		{"connectionIP", &resolved.ConnectionIP},
		{"program", &resolved.Program},
		{"trace", &resolved.Trace},
	}
	for _, f := range fields {
		v, err := ResolveStringField(*f.ptr, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		*f.ptr = v
	}

	if len(cfg.Extra) > 0 {
		extra := make(map[string]interface{}, len(cfg.Extra))
		for k, v := range cfg.Extra {
			r, err := resolveValue(v, ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve extra[%s]: %w", k, err)
			}
			extra[k] = r
		}
		resolved.Extra = extra
	}

	return &ResolvedConfiguration{
		DebugConfiguration: &resolved,
		WorkspaceFolder:    ctx.WorkspaceFolder,
	}, nil
}

// resolveValue resolves variables in a value of any type.
func resolveValue(v interface{}, ctx *ResolutionContext) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return ResolveVariables(val, ctx)
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, item := range val {
			resolved, err := resolveValue(item, ctx)
			if err != nil {
				return nil, err
			}
			result[k] = resolved
		}
		return result, nil
	default:
		return v, nil
	}
}

// MissingInputsError is returned when required ${input:} values are not provided.
type MissingInputsError struct {
	Inputs []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("missing input values: %v", e.Inputs)
}

// IsMissingInputsError checks if an error is a MissingInputsError.
func IsMissingInputsError(err error) (*MissingInputsError, bool) {
	var e *MissingInputsError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Apply overlays the configuration onto cfg. Unset fields keep cfg's values.
func (r *ResolvedConfiguration) Apply(cfg *config.Config) error {
	if r.Cwd != "" {
		cfg.Cwd = r.Cwd
	} else if cfg.Cwd == "" && r.WorkspaceFolder != "" {
		cfg.Cwd = r.WorkspaceFolder
	}
	if r.LuaFileExtension != "" {
		ext := r.LuaFileExtension
		if ext[0] != '.' {
			ext = "." + ext
		}
		cfg.FileExtension = ext
	}
	if r.PathCaseSensitivity != nil {
		cfg.PathCaseSensitive = *r.PathCaseSensitivity
	}
	if r.AutoPathMode != nil {
		cfg.PathMode = config.PathModeAbsolute
		if *r.AutoPathMode {
			cfg.PathMode = config.PathModeBasename
		}
	}
	if r.StopOnEntry != nil {
		cfg.StopOnEntry = *r.StopOnEntry
	}
	if r.LogLevel != nil {
		cfg.LogLevel = types.LogLevel(*r.LogLevel)
	}
	if r.ConnectionPort != 0 {
		host := r.ConnectionIP
		if host == "" {
			host = defaultConnectionIP
		}
		cfg.Peer.Address = net.JoinHostPort(host, strconv.Itoa(r.ConnectionPort))
	}
	return cfg.Validate()
}
