// Package cli defines the cobra commands for the convo binary.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zjregee/convo/internal/app"
	"github.com/zjregee/convo/internal/config"
	"github.com/zjregee/convo/internal/logger"
)

var version = "dev" // set via ldflags at build time

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "convo",
		Short: "Streaming chat client for OpenAI, Anthropic, Gemini and Groq models",
		Long: `convo keeps chat sessions locally, resolves which provider serves a model,
and streams replies from a chat backend.

Quick Start:
  convo config init                 # write ~/.convo/config.yaml
  convo keys set openai sk-...      # store an API key
  convo serve                       # run the chat backend
  convo chat                        # talk to it`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.convo/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newMessagesCmd(opts))
	cmd.AddCommand(newKeysCmd(opts))
	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath()
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.ReadConfig(o.path())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(nil)
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config) *log.Logger {
	return logger.New(cmd.ErrOrStderr(), cfg.LogLevel)
}

// open loads config and opens the app. Callers must Close it.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command, emitter app.Emitter) (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, emitter, o.logger(cmd, cfg))
}
