// Command elio runs the companion server: HTTP plus WebSocket transport
// in front of the orchestration engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/companionkit/elio/capability"
	"github.com/companionkit/elio/capability/anthropic"
	"github.com/companionkit/elio/capability/mock"
	"github.com/companionkit/elio/config"
	"github.com/companionkit/elio/engine"
	"github.com/companionkit/elio/injector"
	"github.com/companionkit/elio/logging"
	"github.com/companionkit/elio/memory"
	"github.com/companionkit/elio/memory/longterm"
	"github.com/companionkit/elio/memory/shortterm"
	"github.com/companionkit/elio/transport"
)

var (
	configPath string
	mockMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "elio",
	Short: "Conversational companion with layered memory",
	Long: "Elio is a conversational companion server: two-tier memory, " +
		"context-aware replies, and text, voice, and image turns over HTTP and WebSocket.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the companion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./elio.yaml or ~/.elio/elio.yaml)")
	serveCmd.Flags().BoolVar(&mockMode, "mock", false, "Use mock capabilities instead of hosted services")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Console)

	short, err := shortterm.New(cfg.Memory.ShortTermPath)
	if err != nil {
		return fmt.Errorf("open short-term store: %w", err)
	}
	defer short.Close()

	long, err := longterm.New(longterm.Config{Path: cfg.Memory.LongTermPath})
	if err != nil {
		return fmt.Errorf("open long-term store: %w", err)
	}
	defer long.Close()

	caps, err := buildCapabilities(cfg)
	if err != nil {
		return err
	}

	eng, err := engine.New(caps, short, long, &engine.Config{
		ShortTermCapacity: cfg.Companion.ShortTermCapacity,
		KeepRecent:        cfg.Companion.KeepRecent,
		CapabilityTimeout: cfg.Companion.CapabilityTimeout,
		Context: injector.Config{
			TopK:       cfg.Context.TopK,
			WindowSize: cfg.Context.WindowSize,
			UnitBudget: cfg.Context.UnitBudget,
			QueryTurns: cfg.Context.QueryTurns,
		},
	}, engine.WithLogger(log))
	if err != nil {
		return err
	}

	srv := transport.NewServer(eng, log)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Bool("mock", mockMode).Msg("companion listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// buildCapabilities wires either the hosted stack or the fully local mock
// stack. The embedder is always wrapped in the memoizing cache.
func buildCapabilities(cfg *config.Config) (engine.Capabilities, error) {
	var caps engine.Capabilities

	if mockMode {
		caps.Text = &mock.TextGenerator{}
	} else {
		if cfg.Anthropic.APIKey == "" {
			return caps, fmt.Errorf("ELIO_ANTHROPIC_API_KEY is required (or run with --mock)")
		}
		client := anthropicsdk.NewClient(option.WithAPIKey(cfg.Anthropic.APIKey))
		opts := []anthropic.Option{
			anthropic.WithModel(cfg.Anthropic.Model),
			anthropic.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)),
		}
		if cfg.Companion.Persona != "" {
			opts = append(opts, anthropic.WithPersona(cfg.Companion.Persona))
		}
		caps.Text = anthropic.NewGenerator(&client, opts...)
	}

	// Speech, recognition, and image generation currently ship as local
	// capabilities; hosted providers slot in behind the same interfaces.
	caps.Speech = &mock.Synthesizer{}
	caps.Recognizer = &mock.Recognizer{}
	caps.Image = &mock.ImageGenerator{}
	caps.Activity = mock.NewSchedule(nil)

	var embedder capability.Embedder = mock.NewEmbedder()
	cached, err := memory.NewCachedEmbedder(embedder, int64(cfg.Memory.EmbedCache))
	if err != nil {
		return caps, fmt.Errorf("embedding cache: %w", err)
	}
	caps.Embedder = cached
	return caps, nil
}
