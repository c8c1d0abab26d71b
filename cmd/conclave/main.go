package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"conclave/internal/bus"
	"conclave/internal/config"
	"conclave/internal/container"
	"conclave/internal/notify"
	"conclave/internal/registry"
	"conclave/internal/runner"
	"conclave/internal/scheduler"
	"conclave/internal/session"
	"conclave/internal/store"
	"conclave/internal/vault"
	"conclave/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("conclave %s\n", version)
	case "run":
		os.Exit(runOnce(os.Args[2:]))
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "secret":
		if err := runSecret(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "build-image":
		if err := runBuildImage(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "export":
		if err := runExport(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "import":
		if err := runImport(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: conclave <command>

Commands:
  run [-config <path>] <prompt>   Run one coordination session and print the decision
  serve                           Start the long-running daemon (bus, bridge, scheduler)
  secret <set|list|delete>        Manage vault-encrypted backend credentials
  build-image                     Build the sandbox agent image from Dockerfile.agent
  export -f <out.tar.zst>         Archive the data directory
  import -f <in.tar.zst>          Restore a data directory archive
  version                         Print version
`)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func policyFromConfig(sc config.SessionConfig) session.Policy {
	return session.Policy{
		VotingTimeout:    sc.VotingTimeout,
		MaxRounds:        sc.MaxRounds,
		RequireConsensus: sc.ConsensusRequired(),
		MinQuorum:        sc.MinQuorum,
	}
}

func needsSandbox(cfg *config.Config) bool {
	for _, a := range cfg.Agents {
		if a.Provider == "container" {
			return true
		}
	}
	return false
}

// runOnce executes a single coordination session. Exit code 0 means the
// terminal verdict carries a usable decision; 1 means it does not; 2 means
// the configuration was invalid.
func runOnce(args []string) int {
	configPath := ""
	rest := args
	if len(rest) >= 2 && rest[0] == "-config" {
		configPath = rest[1]
		rest = rest[2:]
	}
	prompt := strings.TrimSpace(strings.Join(rest, " "))
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: conclave run [-config <path>] <prompt>")
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: init store: %v\n", err)
		return 2
	}
	defer db.Close()

	var (
		events  *bus.Client
		sandbox *container.Manager
		busURL  string
	)
	if needsSandbox(cfg) {
		b, err := bus.New(cfg.NATS)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: init bus: %v\n", err)
			return 2
		}
		defer b.Close()

		events, err = bus.NewClient(b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: bus client: %v\n", err)
			return 2
		}
		defer events.Close()

		busURL = b.ClientURL()
		sandbox, err = container.NewManager(cfg.Sandbox, busURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: init sandbox: %v\n", err)
			return 2
		}
		defer sandbox.StopAll(context.Background())
	}

	agents, err := buildAgents(cfg, db, sandbox, busURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	controller := session.NewController(agents, policyFromConfig(cfg.Session), events, db, slog.Default())
	sess, err := controller.Run(ctx, prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	printOutcome(sess)
	if !sess.Decided() {
		return 1
	}
	return 0
}

func printOutcome(sess *session.Session) {
	fmt.Printf("state: %s (%d rounds)\n", sess.State, len(sess.Rounds))
	v := sess.Verdict
	if v == nil {
		return
	}
	if v.Decision != "" {
		fmt.Printf("decision [%s]: %s\n", v.Kind, v.Decision)
		if len(v.Supporting) > 0 {
			fmt.Printf("supported by: %s\n", strings.Join(v.Supporting, ", "))
		}
	} else {
		fmt.Println("no usable decision")
	}
	if v.Reason != "" {
		fmt.Printf("reason: %s\n", v.Reason)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func buildAgents(cfg *config.Config, db *store.Store, sandbox *container.Manager, busURL string) ([]runner.Agent, error) {
	opts := registry.Options{
		Store:  db,
		Vault:  openVault(cfg),
		BusURL: busURL,
		Image:  cfg.Sandbox.Image,
	}
	if sandbox != nil {
		opts.Sandbox = sandbox
	}
	return registry.New(opts).Build(cfg.Agents, cfg.Session)
}

// runServe starts the long-running daemon: embedded bus, editor bridge,
// scheduler and verdict notifier around a shared controller.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting conclave", "version", version)

	ctx, cancel := signalContext()
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	b, err := bus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer b.Close()
	slog.Info("bus started", "port", b.Port())

	events, err := bus.NewClient(b)
	if err != nil {
		return fmt.Errorf("bus client: %w", err)
	}
	defer events.Close()

	var sandbox *container.Manager
	if needsSandbox(cfg) {
		sandbox, err = container.NewManager(cfg.Sandbox, b.ClientURL())
		if err != nil {
			return fmt.Errorf("init sandbox: %w", err)
		}
		if err := sandbox.CleanupStale(ctx); err != nil {
			slog.Warn("stale sandbox cleanup failed", "error", err)
		}
		defer sandbox.StopAll(context.Background())
	}

	agents, err := buildAgents(cfg, db, sandbox, b.ClientURL())
	if err != nil {
		return err
	}

	controller := session.NewController(agents, policyFromConfig(cfg.Session), events, db, slog.Default())

	sched := scheduler.New(db, controller, events, cfg.Scheduler)
	go sched.Start(ctx)

	if cfg.Notify.TelegramToken != "" {
		notifier, err := notify.New(cfg.Notify, b)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		go func() {
			if err := notifier.Start(ctx); err != nil {
				slog.Error("notifier error", "error", err)
			}
		}()
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(db, b, controller, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("bridge server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// runBuildImage builds the container-provider sandbox image.
func runBuildImage() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mgr, err := container.NewManager(cfg.Sandbox, "")
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	return mgr.BuildImage(ctx)
}

func openVault(cfg *config.Config) *vault.Vault {
	if cfg.Vault.Passphrase == "" {
		return nil
	}
	return vault.New(cfg.Vault.Passphrase)
}
