package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjregee/convo/internal/models"
	"github.com/zjregee/convo/internal/service/provider"
)

func newKeysCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <api-key>",
		Short: "Store the API key for a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.SetAPIKey(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved key for %s\n", strings.ToLower(args[0]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show which providers have a key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			configured, err := a.ConfiguredProviders()
			if err != nil {
				return err
			}
			have := make(map[models.Provider]bool, len(configured))
			for _, p := range configured {
				have[p] = true
			}

			out := cmd.OutOrStdout()
			for _, p := range models.Providers {
				status := warnStyle.Render("missing")
				if have[p] {
					status = userStyle.Render("set")
				}
				fmt.Fprintf(out, "%-10s %s\n", p, status)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove the API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.DeleteAPIKey(args[0])
		},
	})

	return cmd
}

func newModelsCmd() *cobra.Command {
	var providerName string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models and their providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := models.Providers
			if providerName != "" {
				p, ok := models.ParseProvider(providerName)
				if !ok {
					return fmt.Errorf("unknown provider: %s", providerName)
				}
				groups = []models.Provider{p}
			}

			out := cmd.OutOrStdout()
			for _, p := range groups {
				fmt.Fprintln(out, headerStyle.Render(string(p)))
				for _, info := range provider.CatalogFor(p) {
					line := "  " + titleStyle.Render(info.Name) + "  " + idStyle.Render(info.ID)
					if info.ID == provider.DefaultModelID {
						line += "  " + dateStyle.Render("(default)")
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "Only list models for this provider")
	return cmd
}
