// ABOUTME: Entry point for the MCP registry gateway server
// ABOUTME: Subcommands for serving, issuing tokens, hashing client secrets, and health checks

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/app"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _     _                          _
  _ __ ___  __ _  ___| |_ _(_)_ __ _   _        __ _ _| |_ ___
 | '__/ _ \/ _' |/ __| __| | | '__| | | |_____ / _' |_   _/ _ \
 | | |  __/ (_| | (__| |_| | | |  | |_| |_____| (_| | | || (_) |
 |_|  \___|\__, |\___|\__|_|_|_|   \__, |      \__, | |_| \___/
           |___/                   |___/       |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: REGISTRY_CONFIG env var > XDG_CONFIG_HOME/mcp-registry/gateway.yaml
// > ~/.config/mcp-registry/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("REGISTRY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mcp-registry", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: registry-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the registry gateway server")
		fmt.Println("  token --subject S --scopes A,B [--ttl 1h]")
		fmt.Println("                              Issue a bearer token signed with the configured secret")
		fmt.Println("  hash-secret SECRET          Bcrypt-hash a machine client secret for config")
		fmt.Println("  health                      Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "hash-secret":
		err = runHashSecret(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

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
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Policy:   %s\n", cfg.Auth.PolicyPath)
	fmt.Println()

	logger.Info("starting registry-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	// SIGHUP reloads the scope policy without a restart.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			if err := a.ReloadPolicy(); err != nil {
				logger.Error("policy reload failed, previous policy kept", "error", err)
				continue
			}
			logger.Info("scope policy reloaded")
		}
	}()
	defer signal.Stop(hupCh)

	return a.Run(ctx)
}

// runToken issues a signed bearer token for manual testing and
// operator use. The signing secret comes from the config file.
func runToken(args []string) error {
	var subject, scopesArg, ttlArg string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--subject" && i+1 < len(args):
			subject = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--subject="):
			subject = strings.TrimPrefix(args[i], "--subject=")
		case args[i] == "--scopes" && i+1 < len(args):
			scopesArg = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--scopes="):
			scopesArg = strings.TrimPrefix(args[i], "--scopes=")
		case args[i] == "--ttl" && i+1 < len(args):
			ttlArg = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--ttl="):
			ttlArg = strings.TrimPrefix(args[i], "--ttl=")
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}
	if subject == "" {
		return fmt.Errorf("--subject is required")
	}

	ttl := time.Hour
	if ttlArg != "" {
		parsed, err := time.ParseDuration(ttlArg)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
		ttl = parsed
	}

	var scopes []string
	if scopesArg != "" {
		scopes = strings.Split(scopesArg, ",")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(subject, scopes, "", ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for %s (expires in %s)\n", subject, ttl)
	fmt.Println(token)
	return nil
}

// runHashSecret prints a bcrypt hash suitable for auth.clients entries.
func runHashSecret(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: registry-gateway hash-secret SECRET")
	}

	hash, err := auth.HashSecret(args[0])
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
