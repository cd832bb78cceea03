package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjregee/convo/internal/proxy"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat backend",
		Long: `Run the chat backend the client configures and streams from. Bearer
tokens are mapped to user ids by proxy.tokens in the config file; with no
tokens configured, any token is accepted as its own user id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			l := root.logger(cmd, cfg)
			if addr == "" {
				addr = cfg.Proxy.Addr
			}
			if len(cfg.Proxy.Tokens) == 0 {
				l.Warn("No proxy tokens configured, accepting any bearer token")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := proxy.NewServer(proxy.StaticTokens(cfg.Proxy.Tokens), proxy.NewOpenAIFactory(), l)
			return srv.Serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
