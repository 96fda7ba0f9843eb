// Package main is the entry point for the llmgate process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"llmgate/config"
	"llmgate/internal/app"
	"llmgate/internal/logging"
	"llmgate/internal/providers"
	"llmgate/internal/providers/anthropic"
	"llmgate/internal/providers/gemini"
	"llmgate/internal/providers/groq"
	"llmgate/internal/providers/openai"
	"llmgate/internal/providers/xai"
	"llmgate/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "llmgate",
		Short: "Provider-agnostic LLM gateway with Prometheus instrumentation",
		Long: `llmgate invokes OpenAI, Anthropic, Groq, xAI and Gemini models through one contract,
records latency, token usage and outcome of every call, and drains
in-flight calls before shutting down.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newFactory() *providers.ProviderFactory {
	factory := providers.NewProviderFactory()
	factory.Add(openai.Registration)
	factory.Add(anthropic.Registration)
	factory.Add(groq.Registration)
	factory.Add(xai.Registration)
	factory.Add(gemini.Registration)
	return factory
}

// setup loads configuration and installs the default logger.
func setup(logOut io.Writer) (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, cleanup, err := logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, cleanup, nil
}

func shutdownApp(a *app.App, timeout time.Duration) error {
	// The drain itself is bounded by the shutdown timeout; the extra margin
	// covers the sampler and exporter steps around it.
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()
	return a.Shutdown(ctx)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics exporter and resource sampler until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(os.Stdout)
			if err != nil {
				return err
			}
			defer cleanup()

			slog.Info("starting llmgate",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			a, err := app.New(cmd.Context(), app.Config{AppConfig: cfg, Factory: newFactory()})
			if err != nil {
				return err
			}
			if _, err := a.Start(); err != nil {
				_ = shutdownApp(a, cfg.Service.ShutdownTimeout)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				<-gctx.Done()
				slog.Info("shutdown signal received")
				return shutdownApp(a, cfg.Service.ShutdownTimeout)
			})
			return g.Wait()
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		provider    string
		model       string
		agentRole   string
		system      string
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Send one prompt through the gateway and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := app.New(cmd.Context(), app.Config{AppConfig: cfg, Factory: newFactory()})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownApp(a, cfg.Service.ShutdownTimeout); err != nil {
					slog.Error("shutdown failed", "error", err)
				}
			}()

			if provider == "" {
				names := a.Providers()
				if len(names) == 0 {
					return errors.New("no providers configured: set one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GROQ_API_KEY, XAI_API_KEY, GEMINI_API_KEY")
				}
				provider = names[0]
			}
			gw, err := a.Gateway(provider)
			if err != nil {
				return err
			}

			messages := make([]map[string]any, 0, 2)
			if system != "" {
				messages = append(messages, map[string]any{"role": "system", "content": system})
			}
			messages = append(messages, map[string]any{"role": "user", "content": strings.Join(args, " ")})

			params := map[string]any{
				"messages":   messages,
				"max_tokens": maxTokens,
			}
			if cmd.Flags().Changed("temperature") {
				params["temperature"] = temperature
			}

			result, err := gw.Generate(cmd.Context(), model, params, agentRole)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"provider":   result.Provider,
				"model":      result.Model,
				"usage":      result.Usage,
				"latency_ms": result.Latency.Milliseconds(),
				"response":   result.Response,
			})
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "configured provider name (default: first configured)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (default: provider default)")
	cmd.Flags().StringVar(&agentRole, "role", "", "agent role metric label")
	cmd.Flags().StringVar(&system, "system", "", "system instruction")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 1024, "maximum output tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
