// Command taskctl is a demo host for the taskkernel task orchestration
// kernel: it schedules ProcessTasks and chains through a manager.Manager
// and renders them from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forgekit/taskkernel/internal/hostcfg"
	"github.com/forgekit/taskkernel/internal/klog"
	"github.com/forgekit/taskkernel/process"
)

func init() {
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskctl:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "Demo host for the taskkernel task orchestration kernel",
}

var (
	logEnabled bool
	logPath    string
	configPath string
	envFile    string
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&logEnabled, "debug", false, "enable rotated debug logging via internal/klog")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "taskctl-debug.log", "path for --debug log output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "host config file (.toml or .yaml), see internal/hostcfg")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "TASKCTL_-prefixed .env overlay, see internal/hostcfg")
	rootCmd.AddCommand(runCmd, watchCmd, chainCmd)
}

func initLogging() *klog.Logger {
	l, err := klog.New(klog.Config{Enabled: logEnabled, FilePath: logPath, Level: "debug"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskctl: logging init failed:", err)
		l, _ = klog.New(klog.Config{Enabled: false})
	}
	klog.SetDefault(l)
	return l
}

// loadHostConfig loads --config and overlays --env-file, returning the
// resulting ManagerConfig and the process.Environment every subcommand's
// ProcessTask runs in.
func loadHostConfig() (hostcfg.ManagerConfig, process.Environment, error) {
	cfg, err := hostcfg.Load(configPath)
	if err != nil {
		return cfg, process.Environment{}, err
	}
	overlay, err := hostcfg.LoadDotEnv(envFile)
	if err != nil {
		return cfg, process.Environment{}, err
	}
	return cfg, hostcfg.BuildEnvironment(cfg, overlay), nil
}
