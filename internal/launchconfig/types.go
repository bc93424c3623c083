// Package launchconfig provides support for VS Code launch.json Lua debug configurations.
package launchconfig

import (
	"encoding/json"
)

// LaunchJSON represents a VS Code launch.json file structure.
type LaunchJSON struct {
	Version        string               `json:"version"`
	Configurations []DebugConfiguration `json:"configurations"`
	Inputs         []InputConfig        `json:"inputs,omitempty"`
}

// DebugConfiguration represents a single Lua debug configuration in launch.json.
type DebugConfiguration struct {
	// Required fields
	Type    string `json:"type"`    // "lua" or "LuaPanda"
	Request string `json:"request"` // "launch" or "attach"
	Name    string `json:"name"`    // Human-readable name

	// Path resolution
	Cwd                 string `json:"cwd,omitempty"`
	LuaFileExtension    string `json:"luaFileExtension,omitempty"`
	PathCaseSensitivity *bool  `json:"pathCaseSensitivity,omitempty"`
	AutoPathMode        *bool  `json:"autoPathMode,omitempty"` // Match breakpoints by file name only

	// Debugger behaviour
	StopOnEntry *bool `json:"stopOnEntry,omitempty"`
	LogLevel    *int  `json:"logLevel,omitempty"`

	// Control channel
	ConnectionIP   string `json:"connectionIP,omitempty"`
	ConnectionPort int    `json:"connectionPort,omitempty"`

	// Replay input
	Program string `json:"program,omitempty"`
	Trace   string `json:"trace,omitempty"`

	// All other properties not explicitly defined (useCHook, isNeedB64EncodeStr, ...)
	Extra map[string]interface{} `json:"-"`
}

// InputConfig represents a user input variable definition.
type InputConfig struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"` // "promptString" or "pickString"
	Description string   `json:"description,omitempty"`
	Default     string   `json:"default,omitempty"`
	Options     []string `json:"options,omitempty"` // For pickString
}

// ResolutionContext provides context for variable resolution.
type ResolutionContext struct {
	WorkspaceFolder string            // Root folder of the workspace
	CurrentFile     string            // Currently active file (for ${file} variables)
	InputValues     map[string]string // Pre-provided values for ${input:} variables
	EnvOverrides    map[string]string // Override environment variables
}

// knownFields are the keys decoded into DebugConfiguration fields
var knownFields = map[string]bool{
	"type": true, "request": true, "name": true,
	"cwd": true, "luaFileExtension": true, "pathCaseSensitivity": true, "autoPathMode": true,
	"stopOnEntry": true, "logLevel": true,
	"connectionIP": true, "connectionPort": true,
	"program": true, "trace": true,
}

// UnmarshalJSON implements custom unmarshaling to capture unknown fields.
func (c *DebugConfiguration) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type Alias DebugConfiguration
	var alias Alias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = DebugConfiguration(alias)

	c.Extra = make(map[string]interface{})
	for key, value := range raw {
		if knownFields[key] {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		c.Extra[key] = v
	}
	return nil
}

// MarshalJSON implements custom marshaling to include Extra fields.
func (c DebugConfiguration) MarshalJSON() ([]byte, error) {
	type Alias DebugConfiguration
	data, err := json.Marshal(Alias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return data, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		m[k] = v
	}
	return json.Marshal(m)
}

// LuaTypes are the debug types handled by luahook
var LuaTypes = map[string]bool{
	"lua":      true,
	"LuaPanda": true,
}

// IsLuaType returns true if luahook can serve this configuration.
func (c *DebugConfiguration) IsLuaType() bool {
	return LuaTypes[c.Type]
}

// IsAttachRequest returns true if this is an attach configuration.
func (c *DebugConfiguration) IsAttachRequest() bool {
	return c.Request == "attach"
}
