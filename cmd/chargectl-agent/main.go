// chargectl-agent is the privileged half of the privilege separation
// model: a long-running daemon, started by launchd with
// KeepAlive so it is restarted on crash, that performs controller
// register writes on behalf of authenticated unprivileged clients.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hferrone/chargectl/internal/agent"
	"github.com/hferrone/chargectl/internal/battery"
	"github.com/hferrone/chargectl/internal/server"
	"github.com/hferrone/chargectl/internal/smc"
)

const defaultConfigPath = "/etc/chargectl/config.yaml"

func main() {
	flags := pflag.NewFlagSet("chargectl-agent", pflag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "Path to config file")
	simFlag := flags.Bool("sim", false, "Use the simulated controller instead of real hardware")
	tokenOut := flags.String("out", "", "Output path for the token command")
	subject := flags.String("subject", "chargectl-client", "Subject recorded in the minted token")
	ttl := flags.Duration("ttl", 0, "Token lifetime for the token command (0 = no expiry)")
	flags.Usage = usage
	flags.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := server.LoadConfig(*configPath)

	args := flags.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = runAgent(cfg, logger, *simFlag || cfg.Server.Sim)
	case "token":
		err = mintToken(cfg, *tokenOut, *subject, *ttl)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("agent failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: chargectl-agent [flags] <command>

Commands:
  run     Serve privileged control requests on the unix socket
  token   Mint a client auth token (install time, as root)

Flags:
  --config path      Config file (default ` + defaultConfigPath + `)
  --sim              Use the simulated controller
  --out path         Where the token command writes the token
  --subject name     Subject recorded in the token
  --ttl duration     Token lifetime (0 = no expiry)
`)
}

func runAgent(cfg *server.Config, logger *slog.Logger, sim bool) error {
	if os.Geteuid() != 0 {
		logger.Warn("not running as root; register writes will be refused")
	}

	key, err := agent.LoadOrCreateKeypair(cfg.Agent.KeyPath)
	if err != nil {
		return err
	}

	var conn smc.Conn
	if sim {
		conn = smc.NewSimConn(false)
	} else {
		conn = smc.NewSystemConn()
	}
	controller := battery.NewController(smc.NewSession(conn), battery.ProcessPrivilege())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	srv := agent.NewServer(cfg.Agent.SocketPath, key.Public().(ed25519.PublicKey), controller, logger)
	return srv.Serve(ctx)
}

// mintToken signs a fresh client token and writes it where the
// unprivileged client can read it. Run once at install.
func mintToken(cfg *server.Config, out, subject string, ttl time.Duration) error {
	if out == "" {
		out = cfg.Agent.TokenPath
	}

	key, err := agent.LoadOrCreateKeypair(cfg.Agent.KeyPath)
	if err != nil {
		return err
	}

	token := &agent.Token{
		Subject:  subject,
		Audience: agent.TokenAudience,
		IssuedAt: time.Now().Unix(),
	}
	if ttl > 0 {
		token.ExpiresAt = time.Now().Add(ttl).Unix()
	}

	raw, err := agent.MintToken(key, token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(out, raw, 0o644); err != nil {
		return fmt.Errorf("writing token %s: %w", out, err)
	}
	fmt.Printf("token %s written to %s\n", token.ID, out)
	return nil
}
