package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/luispater/anyWebDriver/internal/browser/chrome"
	"github.com/luispater/anyWebDriver/internal/config"
	"github.com/luispater/anyWebDriver/internal/driver"
	"github.com/luispater/anyWebDriver/internal/remote"
	"github.com/luispater/anyWebDriver/internal/runner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type LogFormatter struct {
}

func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	var newLog string
	if entry.Caller != nil {
		newLog = fmt.Sprintf("[%s] [%s] [%s:%d] %s\n", timestamp, entry.Level, path.Base(entry.Caller.File), entry.Caller.Line, entry.Message)
	} else {
		newLog = fmt.Sprintf("[%s] [%s] %s\n", timestamp, entry.Level, entry.Message)
	}

	b.WriteString(newLog)
	return b.Bytes(), nil
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
	log.SetReportCaller(true)
	log.SetFormatter(&LogFormatter{})
}

var (
	configPath string
	debugFlag  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "anywebdriver",
		Short:         "Remote browser automation client and local endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd(), runCmd(), statusCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig() (*config.AppConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration %s: %w", configPath, err)
		}
	}
	if debugFlag {
		cfg.Debug = true
	}
	if !cfg.Debug {
		log.SetLevel(log.InfoLevel)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the W3C endpoint backed by local Chrome sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			manager, err := chrome.NewManager(cfg)
			if err != nil {
				return fmt.Errorf("could not create browser manager: %w", err)
			}
			defer func() {
				log.Debugf("Closing browser manager...")
				if errClose := manager.Close(); errClose != nil {
					log.Debugf("Error closing browser manager: %v", errClose)
				}
			}()

			server := remote.NewServer(&remote.ServerConfig{
				Port:    cfg.ApiPort,
				Debug:   cfg.Debug,
				Backend: manager,
			})

			errChan := make(chan error, 1)
			go func() {
				log.Infof("Starting endpoint on port %s", cfg.ApiPort)
				errChan <- server.Start()
			}()

			// Set up graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err = <-errChan:
				return err
			case <-sigChan:
				log.Debugf("Received shutdown signal. Cleaning up...")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err = server.Stop(ctx); err != nil {
				log.Debugf("Error stopping endpoint: %v", err)
			}
			log.Debugf("Cleanup completed. Exiting...")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against the configured remote endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scenario, err := runner.LoadScenario(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dcfg := driverConfig(cfg)
			dispatcher, err := driver.NewDispatcher(dcfg.DispatcherConfig)
			if err != nil {
				return err
			}
			policy, err := driver.NewWaitPolicy(dcfg.Wait)
			if err != nil {
				return err
			}
			sessions := driver.NewSessionManager(dispatcher)
			defer func() {
				// the run context may already be cancelled
				if errClose := sessions.CloseAll(context.Background()); errClose != nil {
					log.Warnf("Failed to close sessions: %v", errClose)
				}
			}()

			d, err := driver.Open(ctx, sessions, driver.NewFinder(dispatcher, policy, nil), dcfg.Capabilities)
			if err != nil {
				return err
			}

			if err = runner.NewRunner(scenario, d).Run(ctx); err != nil {
				return fmt.Errorf("scenario %q failed: %w", scenario.Name, err)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the remote endpoint is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dispatcher, err := driver.NewDispatcher(driverConfig(cfg).DispatcherConfig)
			if err != nil {
				return err
			}
			value, err := dispatcher.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value.Raw)
			if !value.Get("ready").Bool() {
				return fmt.Errorf("endpoint %s is not ready", cfg.RemoteURL)
			}
			return nil
		},
	}
}

func driverConfig(cfg *config.AppConfig) driver.Config {
	return driver.Config{
		DispatcherConfig: driver.DispatcherConfig{
			RemoteURL:   cfg.RemoteURL,
			ProxyURL:    cfg.ProxyURL,
			CallTimeout: cfg.CallTimeout,
		},
		Wait: driver.WaitConfig{
			Timeout:      cfg.Wait.Timeout,
			PollInterval: cfg.Wait.Poll,
		},
		Capabilities: cfg.Capabilities,
	}
}
