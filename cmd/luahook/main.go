package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/channel"
	"github.com/ctagard/luahook/internal/config"
	"github.com/ctagard/luahook/internal/eval"
	"github.com/ctagard/luahook/internal/hook"
	"github.com/ctagard/luahook/internal/launchconfig"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/internal/mcp"
	"github.com/ctagard/luahook/internal/pathmap"
	"github.com/ctagard/luahook/internal/replay"
	"github.com/ctagard/luahook/internal/session"
	"github.com/ctagard/luahook/internal/version"
	"github.com/ctagard/luahook/pkg/types"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", "mcp", "Run mode: 'mcp' or 'replay'")
	tracePath := flag.String("trace", "", "Trace to replay (replay mode)")
	usePeer := flag.Bool("peer", false, "Replay against a DAP front end instead of scripted actions")
	actions := flag.String("actions", "", "Comma separated stop answers for the scripted front end")
	breakpoints := flag.String("breakpoints", "", "Comma separated file:line breakpoints for the scripted front end")
	stopOnEntry := flag.Bool("stop-on-entry", false, "Stop on the first executed line")
	launchName := flag.String("launch-config", "", "Name of a Lua configuration in .vscode/launch.json")
	workspace := flag.String("workspace", "", "Workspace root for launch.json discovery")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner())
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Debug)
	defer logger.Sync()

	switch *mode {
	case "mcp":
		serveMCP(cfg, logger)
	case "replay":
		trace := *tracePath
		if *launchName != "" {
			resolved, err := loadLaunchConfig(*launchName, *workspace)
			if err != nil {
				log.Fatalf("Failed to resolve launch configuration: %v", err)
			}
			if err := resolved.Apply(cfg); err != nil {
				log.Fatalf("Launch configuration %q: %v", *launchName, err)
			}
			if trace == "" {
				trace = resolved.Trace
			}
		}
		if trace == "" {
			log.Fatal("replay mode needs -trace or a launch configuration that sets 'trace'")
		}
		cfg.StopOnEntry = cfg.StopOnEntry || *stopOnEntry

		if *usePeer {
			err = replayPeer(cfg, logger, trace)
		} else {
			err = replayScripted(cfg, logger, trace, *actions, *breakpoints)
		}
		if err != nil {
			log.Fatalf("Replay failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func serveMCP(cfg *config.Config, logger *zap.Logger) {
	server := mcp.NewServer(cfg, logger)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		server.Close()
		os.Exit(0)
	}()

	// Start serving via stdio
	log.Println("luahook MCP server starting...")
	if err := server.ServeStdio(); err != nil {
		server.Close()
		log.Fatalf("Server error: %v", err)
	}
	server.Close()
}

// replayScripted runs the trace against scripted stop answers and prints
// the stops and the captured output
func replayScripted(cfg *config.Config, logger *zap.Logger, trace, actionList, bpList string) error {
	acts, err := channel.ParseActions(actionList)
	if err != nil {
		return err
	}
	bps, err := parseBreakpoints(bpList)
	if err != nil {
		return err
	}

	manager := session.NewManager(cfg, logger)
	defer manager.Close()

	sess, err := manager.Start(session.Request{
		Trace:       trace,
		Actions:     acts,
		Breakpoints: bps,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := sess.Wait(ctx); err != nil {
		return err
	}

	for _, line := range sess.Output() {
		fmt.Println(line)
	}
	return printJSON(map[string]interface{}{
		"session": sess.Info(),
		"stats":   sess.Stats(),
		"stops":   sess.Stops(),
	})
}

// replayPeer runs the trace against a DAP front end reached over the
// configured peer transport
func replayPeer(cfg *config.Config, logger *zap.Logger, trace string) error {
	events, err := replay.ParseFile(trace)
	if err != nil {
		return err
	}

	book := channel.NewBook(pathmap.Normalizer{
		Cwd:           cfg.Cwd,
		Ext:           cfg.FileExtension,
		CaseSensitive: cfg.PathCaseSensitive,
		Basename:      cfg.PathMode == config.PathModeBasename,
	}, eval.New(cfg.ConditionTimeout), logger)
	peer := channel.NewPeer(book, channel.PeerOptions{
		Address:     cfg.Peer.Address,
		WebSocket:   cfg.UsesWebSocket(),
		DialTimeout: cfg.Peer.DialTimeout,
		StopOnEntry: cfg.StopOnEntry,
		LogLevel:    cfg.LogLevel,
		Logger:      logger,
	})
	defer peer.Close()

	player := replay.New(events, replay.Options{
		SampleRate: cfg.DisabledSampleRate,
		Logger:     logger,
	})
	book.SetStackSource(player)
	hs := hook.NewSession(peer, player, hook.Options{
		Logger:         logger,
		IgnoredSources: cfg.IgnoredSources,
		PollInterval:   cfg.PollInterval,
		LogLevel:       cfg.LogLevel,
		CaseSensitive:  cfg.PathCaseSensitive,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("replaying against front end",
		zap.String("trace", trace),
		zap.String("address", cfg.Peer.Address),
		zap.String("transport", string(cfg.Peer.Transport)))
	stats, err := player.Run(ctx, hs)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"stats":     stats,
		"stops":     hs.Stops(),
		"runState":  hs.RunState().String(),
		"hookLevel": hs.HookLevel().String(),
	})
}

// parseBreakpoints reads "file:line,file:line"
func parseBreakpoints(list string) (map[string][]types.BreakpointSpec, error) {
	bps := make(map[string][]types.BreakpointSpec)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		i := strings.LastIndex(item, ":")
		if i <= 0 {
			return nil, fmt.Errorf("breakpoint %q: expected file:line", item)
		}
		line, err := strconv.Atoi(item[i+1:])
		if err != nil || line <= 0 {
			return nil, fmt.Errorf("breakpoint %q: invalid line", item)
		}
		file := item[:i]
		bps[file] = append(bps[file], types.BreakpointSpec{Line: line})
	}
	return bps, nil
}

func loadLaunchConfig(name, workspace string) (*launchconfig.ResolvedConfiguration, error) {
	lj, path, err := launchconfig.LoadAndDiscover(workspace)
	if err != nil {
		return nil, err
	}
	dc, err := launchconfig.FindConfiguration(lj, name)
	if err != nil {
		return nil, err
	}
	if workspace == "" {
		workspace = launchconfig.GetWorkspaceFolder(path)
	}
	return launchconfig.ResolveConfiguration(dc, &launchconfig.ResolutionContext{WorkspaceFolder: workspace})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHelp() {
	fmt.Println(`luahook: Lua debugger hook engine

Drives recorded Lua hook traces through the LuaPanda-style hook engine, either
as an MCP server for AI agents or from the command line.

USAGE:
    luahook [OPTIONS]

OPTIONS:
    -config <path>          Path to configuration file (YAML/JSON)
    -mode <mode>            Run mode: 'mcp' (default) or 'replay'
    -trace <path>           JSON-lines hook trace to replay
    -peer                   Replay against a DAP front end (peer.address)
    -actions <list>         Stop answers: continue,next,stepIn,stepOut,disconnect
    -breakpoints <list>     Breakpoints as file:line,file:line
    -stop-on-entry          Stop on the first executed line
    -launch-config <name>   Use a Lua configuration from .vscode/launch.json
    -workspace <path>       Workspace root for launch.json discovery
    -version                Show version and exit
    -help                   Show this help message

MCP TOOLS:
    Sessions:
        hook_replay          Replay a trace with breakpoints and stop actions
        hook_list_sessions   List replay sessions
        hook_end             End a replay session

    Inspection:
        hook_status          Run state, hook level, counters and stops
        hook_output          Debugger output of a session
        hook_list_configs    Lua configurations in a launch.json
        hook_version         Version and hook protocol compatibility

    Control:
        hook_select_level    Force a hook level until the next re-selection

CONFIGURATION:
    Configuration can be provided via a YAML or JSON file, or environment
    variables prefixed with LUAHOOK_ (e.g. LUAHOOK_LOGLEVEL=0).

    Example config.yaml:
        logLevel: 1
        pathCaseSensitive: true
        pathMode: absolute
        fileExtension: .lua
        stopOnEntry: false
        pollInterval: 1s
        peer:
          address: 127.0.0.1:8818
          transport: tcp

EXAMPLES:
    luahook -mode replay -trace run.jsonl -breakpoints src/main.lua:10 -actions next,continue
    luahook -mode replay -peer -trace run.jsonl
    luahook -config ~/.luahook/config.yaml`)
}
