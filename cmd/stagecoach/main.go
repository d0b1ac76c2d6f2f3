// Package main is the entry point for the stagecoach agent. The external
// process scheduler invokes the lifecycle subcommands; administrators use
// the ignore/override/checksum subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/stagecoach-mdm/stagecoach/internal/agent"
	"github.com/stagecoach-mdm/stagecoach/internal/config"
	"github.com/stagecoach-mdm/stagecoach/internal/item"
	"github.com/stagecoach-mdm/stagecoach/internal/logging"
	"github.com/stagecoach-mdm/stagecoach/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

var cli struct {
	Config string `short:"c" help:"Configuration file path" default:"${config_path}"`
	Debug  bool   `help:"Enable debug logging"`

	Boot            struct{} `cmd:"" help:"Run boot-time items (invoked by the process scheduler)"`
	Login           userFlag `cmd:"" help:"Run standard login items for the console user"`
	LoginPrivileged userFlag `cmd:"" name:"login-privileged" help:"Run privileged login items"`
	OnDemand        userFlag `cmd:"" name:"on-demand" help:"Run on-demand items and schedule deferred cleanup"`
	LoginEvery      userFlag `cmd:"" name:"login-every" help:"Manually run login-every items"`
	LoginOnce       userFlag `cmd:"" name:"login-once" help:"Manually run login-once items"`
	Cleanup         struct{} `cmd:"" help:"Consume the cleanup trigger and clear the on-demand directory"`

	Ignore struct {
		Add struct {
			User string `arg:"" help:"Username to exempt from login processing"`
		} `cmd:"" help:"Add a user to the ignored set"`
		Remove struct {
			User string `arg:"" help:"Username to remove"`
		} `cmd:"" help:"Remove a user from the ignored set"`
	} `cmd:"" help:"Manage the ignored-user set"`

	Override struct {
		Add struct {
			Path string `arg:"" help:"Item path to re-enable"`
		} `cmd:"" help:"Add an override so a once-item runs again"`
		Remove struct {
			Path string `arg:"" help:"Item path"`
		} `cmd:"" help:"Remove an override"`
	} `cmd:"" help:"Manage override epochs for once-items"`

	Checksum struct {
		Add struct {
			Path string `arg:"" help:"Item path to hash"`
		} `cmd:"" help:"Compute and store one item's checksum"`
		Regenerate struct{} `cmd:"" help:"Recompute checksums for every discovered item"`
		List       struct{} `cmd:"" help:"Print the stored checksum report"`
	} `cmd:"" help:"Manage the checksum allow-list"`

	Version struct{} `cmd:"" help:"Print the agent version"`
}

// userFlag is the shared flag set for login-phase subcommands. The
// console username is an explicit parameter so the engine never has to
// guess the logged-in session.
type userFlag struct {
	User string `help:"Console username (defaults to the invoking user)"`
}

func main() {
	// A .env next to the unit file can override environment settings.
	_ = godotenv.Load()

	configPath := config.DefaultConfigPath
	if v := os.Getenv("STAGECOACH_CONFIG"); v != "" {
		configPath = v
	}

	ctx := kong.Parse(&cli,
		kong.Name("stagecoach"),
		kong.Description("Runs administrator-provisioned scripts and packages at boot, login, and on demand."),
		kong.Vars{"config_path": configPath},
	)

	if ctx.Command() == "version" {
		fmt.Printf("stagecoach %s\n", version)
		return
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cli.Debug {
		cfg.Debug = true
	}

	logger := logging.New(cfg.LogFile, cfg.Debug)
	logDeviceInfo(logger)

	db, err := store.New(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open agent store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	a := agent.New(cfg, db, logger)

	if err := run(ctx.Command(), cfg, db, a, logger); err != nil {
		logger.Error("command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

// run dispatches one parsed command.
func run(command string, cfg *config.Config, db *store.Store, a *agent.Agent, logger *slog.Logger) error {
	ctx := context.Background()

	switch command {
	case "boot":
		return a.Boot(ctx)
	case "login":
		return a.Login(ctx, resolveUser(cli.Login.User))
	case "login-privileged":
		return a.LoginPrivileged(ctx, resolveUser(cli.LoginPrivileged.User))
	case "on-demand":
		return a.OnDemand(ctx, resolveUser(cli.OnDemand.User))
	case "login-every":
		return a.LoginEvery(ctx, resolveUser(cli.LoginEvery.User))
	case "login-once":
		return a.LoginOnce(ctx, resolveUser(cli.LoginOnce.User))
	case "cleanup":
		return a.Cleanup()

	case "ignore add <user>":
		if err := requireRoot(); err != nil {
			return err
		}
		return db.AddIgnoredUser(cli.Ignore.Add.User)
	case "ignore remove <user>":
		if err := requireRoot(); err != nil {
			return err
		}
		return db.RemoveIgnoredUser(cli.Ignore.Remove.User)

	case "override add <path>":
		if err := requireRoot(); err != nil {
			return err
		}
		return db.AddOverride(cli.Override.Add.Path, time.Now())
	case "override remove <path>":
		if err := requireRoot(); err != nil {
			return err
		}
		return db.RemoveOverride(cli.Override.Remove.Path)

	case "checksum add <path>":
		if err := requireRoot(); err != nil {
			return err
		}
		path := cli.Checksum.Add.Path
		digest, err := a.Trust().Record(item.Item{Path: path, Kind: item.KindOf(path)})
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", digest, path)
		return nil
	case "checksum regenerate":
		if err := requireRoot(); err != nil {
			return err
		}
		entries, err := a.Trust().RegenerateAll(cfg.AllDirs())
		if err != nil {
			return err
		}
		logger.Info("checksum allow-list regenerated", "entries", len(entries))
		return nil
	case "checksum list":
		return printChecksums(a)

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// requireRoot gates the mutating administrative commands on the
// privileged system identity.
func requireRoot() error {
	if os.Geteuid() != 0 {
		return agent.ErrNotPrivileged
	}
	return nil
}

// resolveUser falls back to the invoking user when --user is not given.
func resolveUser(username string) string {
	if username != "" {
		return username
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// printChecksums writes the stored allow-list as an aligned table.
func printChecksums(a *agent.Agent) error {
	entries, err := a.Trust().Entries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("checksum allow-list is empty (trust checking bypassed)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSHA-256")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.ItemPath, e.Digest)
	}
	return w.Flush()
}

// logDeviceInfo records hostname and OS details once per invocation for
// diagnostic correlation in the shared log file.
func logDeviceInfo(logger *slog.Logger) {
	hostname, err := os.Hostname()
	if err != nil {
		logger.Debug("failed to read hostname", "error", err)
		return
	}
	logger.Debug("agent invoked",
		"hostname", hostname,
		"version", version,
		"euid", os.Geteuid(),
	)
}
