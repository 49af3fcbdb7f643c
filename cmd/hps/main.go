package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hsyst/hps-cli/pkg/client"
	"github.com/hsyst/hps-cli/pkg/commands"
	"github.com/hsyst/hps-cli/pkg/config"
	"github.com/hsyst/hps-cli/pkg/controller"
	"github.com/hsyst/hps-cli/pkg/display"
	"github.com/hsyst/hps-cli/pkg/log"
	"github.com/hsyst/hps-cli/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagDataDir   string
	flagLogLevel  string
	flagJSONLog   bool
	flagNoCLI     bool
	flagOutputDir   string
	flagInsecure    bool
	flagMetricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hps",
	Short: "HPS - client for the HSYST P2P content network",
	Long: `HPS is the command-line client for the HSYST peer-to-peer
content and naming network. It publishes signed content blobs,
resolves decentralized names and keeps a verified local cache,
all over a single authenticated event channel.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient()
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <command...>",
	Short: "Send a command to an already running client",
	Long: `Send forwards one command line to the client process running
against the same data directory and prints its reply. The running
client must have been started normally; the bridge uses the
controller_hpscli file in the data directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}
		output, err := controller.Send(dataDir, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Print(output)
		if output != "" && !strings.HasSuffix(output, "\n") {
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"HPS version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.hps_cli)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&flagJSONLog, "json-log", false, "emit logs as JSON")
	rootCmd.Flags().BoolVar(&flagNoCLI, "no-cli", false, "disable the interactive prompt, serve the controller bridge only")
	rootCmd.Flags().StringVar(&flagOutputDir, "output-dir", "", "directory for downloaded files")
	rootCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "skip TLS certificate verification")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9190)")

	rootCmd.AddCommand(sendCmd)
}

func resolveDataDir() (string, error) {
	if flagDataDir != "" {
		return flagDataDir, nil
	}
	return config.DefaultDataDir()
}

func loadConfig() (*config.Config, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagJSONLog {
		cfg.JSONLog = true
	}
	if flagNoCLI {
		cfg.NoCLI = true
	}
	if flagOutputDir != "" {
		cfg.OutputDir = flagOutputDir
	}
	if flagInsecure {
		cfg.InsecureSkipVerify = true
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}
	return cfg, nil
}

func runClient() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.JSONLog})
	logger := log.WithComponent("client")

	out := display.New(os.Stdout, os.Stdin, cfg.NoCLI)

	core, err := client.New(cfg, logger, func(nonce, hashes uint64, elapsed time.Duration, hashrate float64) {
		out.MiningProgress(hashes, elapsed, hashrate)
	})
	if err != nil {
		return err
	}
	defer core.Close()

	disp := commands.New(core, out, logger)

	// The controller bridge runs its commands through a private plain
	// printer so replies stay free of escape sequences and prompts.
	monitor, err := controller.NewMonitor(cfg.DataDir, func(ctx context.Context, line string) (string, error) {
		var buf bytes.Buffer
		bridgeOut := display.New(&buf, strings.NewReader(""), true)
		bridgeDisp := commands.New(core, bridgeOut, logger)
		if err := bridgeDisp.Execute(ctx, line); err != nil && !errors.Is(err, commands.ErrExit) {
			return buf.String(), err
		}
		return buf.String(), nil
	}, logger)
	if err != nil {
		return err
	}
	monitor.Start()
	defer monitor.Stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		defer srv.Close()
	}

	if cfg.NoCLI {
		return waitForSignal()
	}
	return repl(core, disp, out)
}

func waitForSignal() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}

func repl(core *client.Core, disp *commands.Dispatcher, out *display.Printer) error {
	out.Infof("HPS client %s — type help for commands", Version)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT)
	go func() {
		for range interrupt {
			out.Println()
			out.Warnf("use exit to leave")
		}
	}()
	defer signal.Stop(interrupt)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		out.Printf("%s", prompt(core))
		if !scanner.Scan() {
			out.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := disp.Execute(context.Background(), line); err != nil {
			if errors.Is(err, commands.ErrExit) {
				return nil
			}
			return err
		}
	}
}

func prompt(core *client.Core) string {
	state := core.State()
	if state.User != "" && state.Connected {
		return fmt.Sprintf("hps://%s@%s » ", state.User, state.Server)
	}
	return "hps:// » "
}
