package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vrcbridge/vrcbridge/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/vrcbridge/vrcbridge/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		" __   ______   ___ _        _    _\n" +
		" \\ \\ / /  _ \\ / __| |__ _ _(_)__| |__ _ ___\n" +
		"  \\ V /|   /| (__| '_ \\ '_| / _` / _` / -_)\n" +
		"   \\_/ |_|_\\ \\___|_.__/_| |_\\__,_\\__, \\___|\n" +
		"                                 |___/\n"
)

var (
	rootConfigPath string
	rootLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "vrcbridge",
	Short: "vrcbridge - VRChat group audit logs to Discord",
	Long:  color.CyanString(logo) + "\nPolls VRChat group audit logs and mirrors them into Discord.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr(), rootLogLevel)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file path (default ~/.vrcbridge/config.json)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadConfig reads the --config file when given, otherwise the default
// location. Env files are loaded first either way.
func loadConfig() (*config.Config, error) {
	if strings.TrimSpace(rootConfigPath) == "" {
		return config.Load()
	}
	config.LoadEnvFileCandidates()
	return config.LoadFile(rootConfigPath)
}

func configLocation() string {
	if strings.TrimSpace(rootConfigPath) != "" {
		return rootConfigPath
	}
	p, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return p
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
