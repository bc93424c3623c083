package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/channel"
	"github.com/ctagard/luahook/internal/errors"
	"github.com/ctagard/luahook/internal/launchconfig"
	"github.com/ctagard/luahook/internal/session"
	"github.com/ctagard/luahook/internal/version"
	"github.com/ctagard/luahook/pkg/types"
)

// defaultWaitTimeout bounds hook_replay when wait is set
const defaultWaitTimeout = 30 * time.Second

// Session Handlers

func (s *Server) handleHookReplay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := *s.config
	trace := ""

	if configName, _ := request.RequireString("configName"); configName != "" {
		resolved, err := s.resolveLaunchConfig(request, configName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := resolved.Apply(&cfg); err != nil {
			return mcp.NewToolResultError(errors.ConfigInvalid(configName, err.Error()).Error()), nil
		}
		trace = resolved.Trace
	}
	if t, err := request.RequireString("trace"); err == nil && t != "" {
		trace = t
	}
	if trace == "" {
		return mcp.NewToolResultError(errors.MissingParameter("trace",
			"Provide the path of a JSON-lines hook trace, or a configName whose launch.json configuration sets 'trace'.").Error()), nil
	}

	req := session.Request{
		Trace:       trace,
		StopOnEntry: request.GetBool("stopOnEntry", false),
		Config:      &cfg,
	}

	if bpsJSON, err := request.RequireString("breakpoints"); err == nil && bpsJSON != "" {
		var bps map[string][]types.BreakpointSpec
		if err := json.Unmarshal([]byte(bpsJSON), &bps); err != nil {
			return mcp.NewToolResultError(errors.InvalidJSON("breakpoints", err,
				`{"src/main.lua": [{"line": 10}, {"line": 20, "condition": "x > 5"}]}`).Error()), nil
		}
		req.Breakpoints = bps
	}

	if list, err := request.RequireString("actions"); err == nil {
		actions, err := channel.ParseActions(list)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		req.Actions = actions
	}

	sess, err := s.sessionManager.Start(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !request.GetBool("wait", true) {
		return jsonResult(map[string]interface{}{
			"sessionId": sess.ID,
			"status":    "started",
		})
	}

	timeout := defaultWaitTimeout
	if secs, err := request.RequireFloat("timeoutSeconds"); err == nil && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sess.Wait(waitCtx); err != nil && waitCtx.Err() == nil {
		return mcp.NewToolResultError(fmt.Sprintf("replay failed: %v", err)), nil
	}

	return jsonResult(statusResult(sess))
}

// resolveLaunchConfig loads, resolves and validates a Lua launch.json configuration
func (s *Server) resolveLaunchConfig(request mcp.CallToolRequest, configName string) (*launchconfig.ResolvedConfiguration, error) {
	workspace, _ := request.RequireString("workspace")
	configPath, _ := request.RequireString("configPath")

	var lj *launchconfig.LaunchJSON
	var err error
	if configPath != "" {
		lj, err = launchconfig.LoadFromPath(configPath)
	} else {
		lj, configPath, err = launchconfig.LoadAndDiscover(workspace)
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigNotFound, "failed to load launch.json",
			"Pass configPath, or a workspace containing .vscode/launch.json.", err)
	}

	cfg, err := launchconfig.FindConfiguration(lj, configName)
	if err != nil {
		var lua []string
		for _, info := range launchconfig.ListConfigurations(lj) {
			if info.Lua {
				lua = append(lua, info.Name)
			}
		}
		return nil, errors.ConfigNotFound(configName, lua)
	}

	resCtx := &launchconfig.ResolutionContext{WorkspaceFolder: workspace}
	if resCtx.WorkspaceFolder == "" {
		resCtx.WorkspaceFolder = launchconfig.GetWorkspaceFolder(configPath)
	}
	if inputValuesJSON, err := request.RequireString("inputValues"); err == nil && inputValuesJSON != "" {
		var inputValues map[string]string
		if err := json.Unmarshal([]byte(inputValuesJSON), &inputValues); err != nil {
			return nil, errors.InvalidJSON("inputValues", err, `{"traceName": "run.jsonl"}`)
		}
		resCtx.InputValues = inputValues
	}

	resolved, err := launchconfig.ResolveConfiguration(cfg, resCtx)
	if err != nil {
		if missing, ok := launchconfig.IsMissingInputsError(err); ok {
			return nil, errors.MissingParameter("inputValues",
				fmt.Sprintf("Provide values for %v via the inputValues parameter.", missing.Inputs))
		}
		return nil, errors.ConfigInvalid(configName, err.Error())
	}
	s.logger.Debug("launch configuration resolved",
		zap.String("config", configName),
		zap.String("workspace", resolved.WorkspaceFolder))
	return resolved, nil
}

func (s *Server) handleHookListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.sessionManager.List()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })

	result := make([]types.SessionInfo, len(sessions))
	for i, sess := range sessions {
		result[i] = sess.Info()
	}

	return jsonResult(map[string]interface{}{
		"sessions": result,
	})
}

func (s *Server) handleHookEnd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.sessionManager.Terminate(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sessionID,
		"status":    string(types.SessionStatusTerminated),
	})
}

// Inspection Handlers

func (s *Server) handleHookStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(statusResult(sess))
}

func (s *Server) handleHookOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lines := sess.Output()
	if tail, err := request.RequireFloat("tail"); err == nil && tail > 0 && int(tail) < len(lines) {
		lines = lines[len(lines)-int(tail):]
	}
	if lines == nil {
		lines = []string{}
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"lines":     lines,
	})
}

func (s *Server) handleHookListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, _ := request.RequireString("workspace")
	configPath, _ := request.RequireString("configPath")

	var lj *launchconfig.LaunchJSON
	var err error
	foundPath := configPath
	if configPath != "" {
		lj, err = launchconfig.LoadFromPath(configPath)
	} else {
		lj, foundPath, err = launchconfig.LoadAndDiscover(workspace)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load launch.json: %v", err)), nil
	}

	result := map[string]interface{}{
		"configPath":     foundPath,
		"configurations": launchconfig.ListConfigurations(lj),
	}

	if validationErrors := launchconfig.ValidateLaunchJSON(lj); len(validationErrors) > 0 {
		errStrings := make([]string, len(validationErrors))
		for i, e := range validationErrors {
			errStrings[i] = e.Error()
		}
		result["validationWarnings"] = errStrings
	}

	return jsonResult(result)
}

func (s *Server) handleHookVersion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := map[string]interface{}{
		"version":         version.GetVersion(),
		"protocolVersion": version.ProtocolVersion,
	}

	if adapter, err := request.RequireString("adapterVersion"); err == nil && adapter != "" {
		result["adapter"] = version.CheckAdapter(adapter)
	}

	return jsonResult(result)
}

// Control Handlers

func (s *Server) handleHookSelectLevel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	name, err := request.RequireString("level")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("level", "One of disabled, coarse, moderate or full.").Error()), nil
	}
	level, err := types.ParseHookLevel(name)
	if err != nil {
		return mcp.NewToolResultError(errors.InvalidParameter("level", name, "disabled, coarse, moderate or full").Error()), nil
	}

	select {
	case <-sess.Done():
		return mcp.NewToolResultError(fmt.Sprintf("session %s has already finished", sess.ID)), nil
	default:
	}
	if err := sess.SelectLevel(level); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"level":     level.String(),
		"status":    "queued",
	})
}

// Helper functions

func (s *Server) getSession(request mcp.CallToolRequest) (*session.Session, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "Provide the sessionId returned from hook_replay. Use hook_list_sessions to see sessions.")
	}
	return s.sessionManager.Get(sessionID)
}

func statusResult(sess *session.Session) map[string]interface{} {
	stops := sess.Stops()
	if stops == nil {
		stops = []types.StopRecord{}
	}
	return map[string]interface{}{
		"session": sess.Info(),
		"stats":   sess.Stats(),
		"stops":   stops,
	}
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

