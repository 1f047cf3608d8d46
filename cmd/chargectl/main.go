// chargectl is the unprivileged command-line client: it reads battery
// state directly from the controller and routes writes through the
// privileged agent when it lacks the rights to perform them itself.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hferrone/chargectl/internal/agent"
	"github.com/hferrone/chargectl/internal/battery"
	"github.com/hferrone/chargectl/internal/server"
	"github.com/hferrone/chargectl/internal/smc"
)

const defaultConfigPath = "/etc/chargectl/config.yaml"

func main() {
	flags := pflag.NewFlagSet("chargectl", pflag.ExitOnError)
	configPath := flags.String("config", defaultConfigPath, "Path to config file")
	simFlag := flags.Bool("sim", false, "Use the simulated controller instead of real hardware")
	jsonOut := flags.Bool("json", false, "Emit JSON instead of human-readable output")
	flags.Usage = usage
	flags.Parse(os.Args[1:])

	log.SetFlags(0)

	cfg := server.LoadConfig(*configPath)
	sim := *simFlag || cfg.Server.Sim

	args := flags.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctl := newController(sim)

	var err error
	switch args[0] {
	case "status":
		err = runStatus(ctl, *jsonOut)
	case "limit":
		err = runLimit(ctl, cfg, args[1:])
	case "charging":
		err = runCharging(ctl, cfg, args[1:])
	case "diag":
		err = runDiag(ctl, *jsonOut)
	case "serve":
		err = runServe(cfg, ctl)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: chargectl [flags] <command>

Commands:
  status              Show the current battery snapshot
  limit [percent]     Show or set the maximum charge percentage
  charging [on|off]   Show or toggle whether charging is allowed
  diag                Print the register diagnostic report
  serve               Run the read-only status HTTP endpoint

Flags:
  --config path   Config file (default ` + defaultConfigPath + `)
  --json          JSON output for status and diag
  --sim           Use the simulated controller
`)
}

func newController(sim bool) *battery.Controller {
	var conn smc.Conn
	if sim {
		conn = smc.NewSimConn(false)
	} else {
		conn = smc.NewSystemConn()
	}
	return battery.NewController(smc.NewSession(conn), battery.ProcessPrivilege())
}

func runStatus(ctl *battery.Controller, jsonOut bool) error {
	st := ctl.Status()
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(st)
	}

	fmt.Printf("variant:     %s\n", orDash(st.Variant))
	printInt("charge", st.ChargePercent, "%%")
	printBool("plugged in", st.IsPluggedIn)
	printBool("charging", st.IsCharging)
	printInt("limit", st.ChargeLimit, "%%")
	printBool("charging allowed", st.ChargingEnabled)
	if st.TemperatureC != nil {
		fmt.Printf("temperature: %.1f °C\n", *st.TemperatureC)
	}
	printInt("cycles", st.CycleCount, "")
	if st.HealthRatio != nil {
		fmt.Printf("health:      %.0f%%\n", *st.HealthRatio*100)
	}
	return nil
}

func runLimit(ctl *battery.Controller, cfg *server.Config, args []string) error {
	if len(args) == 0 {
		limit, ok := ctl.ChargeLimit()
		if !ok {
			return errors.New("charge limit register could not be read")
		}
		fmt.Printf("%d%%\n", limit)
		return nil
	}

	percent, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid percentage %q", args[0])
	}

	return applyWrite(cfg, ctl.SetChargeLimit(percent), func(c *agent.Client) error {
		return c.SetChargeLimit(percent)
	})
}

func runCharging(ctl *battery.Controller, cfg *server.Config, args []string) error {
	if len(args) == 0 {
		enabled, ok := ctl.IsChargingEnabled()
		if !ok {
			return errors.New("charging control register could not be read")
		}
		if enabled {
			fmt.Println("charging is allowed")
		} else {
			fmt.Println("charging is inhibited")
		}
		return nil
	}

	var enabled bool
	switch args[0] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("expected \"on\" or \"off\", got %q", args[0])
	}

	return applyWrite(cfg, ctl.SetChargingEnabled(enabled), func(c *agent.Client) error {
		return c.SetChargingEnabled(enabled)
	})
}

// applyWrite interprets a facade write result. A privilege refusal is
// not terminal: the same request is replayed through the agent, whose
// absence is reported as its own actionable condition.
func applyWrite(cfg *server.Config, result battery.Result, viaAgent func(*agent.Client) error) error {
	switch result.Code {
	case battery.ResultSuccess:
		fmt.Println("ok")
		return nil
	case battery.ResultRequiresPrivilege:
		client, err := agent.NewClient(cfg.Agent.SocketPath, cfg.Agent.TokenPath)
		if err != nil {
			return fmt.Errorf("elevated privilege required and no agent token available: %w", err)
		}
		if err := viaAgent(client); err != nil {
			if errors.Is(err, agent.ErrAgentUnavailable) {
				return errors.New("the privileged agent is not running; install or start chargectl-agent")
			}
			return err
		}
		fmt.Println("ok (via agent)")
		return nil
	case battery.ResultNotSupported:
		return fmt.Errorf("not supported: %s", result.Reason)
	default:
		return errors.New(result.Reason)
	}
}

func runDiag(ctl *battery.Controller, jsonOut bool) error {
	report := ctl.Diagnostics()
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Printf("hardware variant: %s\n\nregisters:\n", report.Variant)
	for _, k := range report.Keys {
		mark := " "
		if k.Present {
			mark = "x"
		}
		fmt.Printf("  [%s] %-22s %s\n", mark, k.Name, k.Key)
	}
	fmt.Println()
	return runStatus(ctl, false)
}

func runServe(cfg *server.Config, ctl *battery.Controller) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	return server.New(cfg, ctl).Run(ctx)
}

func printInt(label string, v *int, suffix string) {
	if v == nil {
		return
	}
	fmt.Printf("%-12s %d"+suffix+"\n", label+":", *v)
}

func printBool(label string, v *bool) {
	if v == nil {
		return
	}
	fmt.Printf("%-12s %v\n", label+":", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
