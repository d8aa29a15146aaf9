// Command corevox-cli drives a call through the router/identity/task-manager
// agents from a terminal, without a telephony carrier — for manual testing.
//
// Grounded on original_source/src/main.py's run_cli_mode: load configuration,
// stand up the same collaborators a real call gets (storage, live-session
// provider, orchestrator, agents), register a CLIHandler, and run.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/agents/identity"
	"github.com/corevox/corevox/internal/agents/router"
	"github.com/corevox/corevox/internal/agents/taskmanager"
	"github.com/corevox/corevox/internal/config"
	"github.com/corevox/corevox/internal/iohandler/cli"
	"github.com/corevox/corevox/internal/llmsession"
	"github.com/corevox/corevox/internal/llmsession/openairt"
	"github.com/corevox/corevox/internal/observer"
	"github.com/corevox/corevox/internal/orchestrator"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/storage/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corevox-cli: %v\n", err)
		return 1
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("============================================================")
	fmt.Println("  corevox — CLI mode")
	fmt.Println("============================================================")
	fmt.Println("\nInitializing...")

	pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corevox-cli: connect storage: %v\n", err)
		return 1
	}
	defer pool.Close()
	fmt.Println("  [✓] storage initialized")

	users := postgres.NewUserRepo(pool)
	tasks := postgres.NewTaskRepo(pool)

	provider := openairt.New(cfg.LLM.APIKey, openairt.WithModel(cfg.LLM.Model))
	fmt.Println("  [✓] live-session provider initialized")

	sessionID := "cli-session"
	sess := sessionctx.NewSessionContext(sessionID, sessionctx.PlatformCLI)
	gctx := sessionctx.NewGlobalContext("corevox", "dev", cfg.Server.Environment, sess, nil)

	obs := observer.New(log, observer.WithTimeout(cfg.Observer.InactivityTimeout))
	orch := orchestrator.New(gctx, obs, nil, log)

	if err := orch.RegisterAgent(router.New(log)); err != nil {
		fmt.Fprintf(os.Stderr, "corevox-cli: register router: %v\n", err)
		return 1
	}
	if err := orch.RegisterAgent(identity.New(users, log)); err != nil {
		fmt.Fprintf(os.Stderr, "corevox-cli: register identity: %v\n", err)
		return 1
	}
	if err := orch.RegisterAgent(taskmanager.New(gctx, tasks, log)); err != nil {
		fmt.Fprintf(os.Stderr, "corevox-cli: register task_manager: %v\n", err)
		return 1
	}
	fmt.Println("  [✓] agents registered")

	switcher := &agentSwitcher{provider: provider, gctx: gctx}
	orch.SetAgentSwitchHook(switcher.onAgentSwitch)

	fmt.Println("\n------------------------------------------------------------")
	fmt.Println("Ready! Type your messages below. Type 'exit' to quit.")
	fmt.Println("------------------------------------------------------------")

	scanner := bufio.NewScanner(os.Stdin)
	readLine := func() (string, bool) {
		fmt.Print("\n[You]: ")
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	}
	write := func(s string) { fmt.Println(s) }

	io := cli.New(sessionID, readLine, write, log)

	if err := orch.Run(ctx, io); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "corevox-cli: %v\n", err)
		return 1
	}
	return 0
}

// agentSwitcher is the CLI analogue of internal/bridge's callSession: it
// opens a fresh live session for whichever agent the orchestrator activates.
// Unlike the carrier bridge it has no audio resampler state to reset and no
// filler-to-speech wiring, since the CLIHandler's fillers are printed lines.
type agentSwitcher struct {
	provider llmsession.Provider
	gctx     *sessionctx.GlobalContext
}

func (s *agentSwitcher) onAgentSwitch(ctx context.Context, a agent.Agent, _ *sessionctx.HandoffData) error {
	cfg := llmsession.Config{
		SystemPrompt: a.RenderPrompt(s.gctx),
		VoiceName:    a.ModelConfig().VoiceName,
		ToolSchema:   toolSchema(a.Tools()),
	}

	sess, err := s.provider.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("corevox-cli: open live session for %q: %w", a.Name(), err)
	}

	setter, ok := a.(interface{ SetSession(llmsession.Session) })
	if !ok {
		sess.Close()
		return fmt.Errorf("corevox-cli: agent %q cannot accept a live session", a.Name())
	}
	setter.SetSession(sess)
	return nil
}

func toolSchema(tools []agent.Tool) []llmsession.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]llmsession.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = llmsession.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return defs
}
