// ABOUTME: Entry point for botkeeper: the control server and its CLI client
// ABOUTME: serve runs the HTTP control API; start/stop/status/events call it

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/botkeeper/internal/auth"
	"github.com/2389/botkeeper/internal/config"
	"github.com/2389/botkeeper/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
 _           _   _
| |__   ___ | |_| | _____  ___ _ __   ___ _ __
| '_ \ / _ \| __| |/ / _ \/ _ \ '_ \ / _ \ '__|
| |_) | (_) | |_|   <  __/  __/ |_) |  __/ |
|_.__/ \___/ \__|_|\_\___|\___| .__/ \___|_|
                              |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "start":
		err = runStart(ctx)
	case "stop":
		err = runStop(ctx)
	case "status":
		err = runStatus(ctx)
	case "events":
		err = runEvents(ctx, args)
	case "token":
		err = runToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: botkeeper <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  serve                      Start the control server (and the bot, if autostart)")
	fmt.Println("  init [path]                Write a starter config file")
	fmt.Println("  start                      Start the bot")
	fmt.Println("  stop                       Stop the bot")
	fmt.Println("  status                     Show whether the bot is running")
	fmt.Println("  events [--limit N]         Show recent lifecycle events")
	fmt.Println("  token <subject> [--ttl D]  Mint a bearer token from auth.jwt_secret")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  BOTKEEPER_CONFIG   Config file path (default: ~/.config/botkeeper/botkeeper.yaml)")
	fmt.Println("  BOTKEEPER_URL      Control API base URL (default: http://<server.http_addr>)")
	fmt.Println("  BOTKEEPER_TOKEN    Bearer token (default: contents of <config dir>/token)")
	fmt.Println("  BOTKEEPER_DB_PATH  Overrides database.path")
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Bot:       %s@%s:%d (v%s)\n", cfg.Bot.Username, cfg.Bot.Host, cfg.Bot.Port, cfg.Bot.Version)
	green.Print("    ▶ ")
	fmt.Printf("Driver:    %s\n", cfg.Driver.URL)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if !cfg.Bot.Autostart {
		yellow := color.New(color.FgYellow)
		yellow.Println("    autostart disabled; use `botkeeper start`")
	}

	fmt.Println()

	logger.Info("starting botkeeper",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver_url", cfg.Driver.URL,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit(args []string) error {
	path := config.DefaultPath()
	if len(args) > 0 {
		path = args[0]
	}

	if err := config.WriteTemplate(path); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", path)
	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Println("    botkeeper serve")
	return nil
}

// runToken mints a bearer token signed with the configured secret and saves
// it next to the config file for the CLI client commands.
func runToken(args []string) error {
	var subject string
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case subject == "":
			subject = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if subject == "" {
		return fmt.Errorf("usage: botkeeper token <subject> [--ttl 720h]")
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Saved token: %s (expires %s)\n", tokenPath, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}
