package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fbiville/markdown-table-formatter/pkg/markdown"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	tnclaim "github.com/trufnetwork/claimgate/extensions/tn_claim"
	"github.com/trufnetwork/claimgate/extensions/tn_claim/store"
)

func newClaimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Inspect the claim record",
	}
	cmd.AddCommand(newClaimsListCmd())
	return cmd
}

func newClaimsListCmd() *cobra.Command {
	var (
		envFile string
		kind    string
		path    string
		dsn     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claimed requesters as a markdown table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(envFile)
			if err != nil {
				return err
			}
			storeCfg := cfg.Store
			if cmd.Flags().Changed("kind") {
				storeCfg.Kind = kind
			}
			if cmd.Flags().Changed("path") {
				storeCfg.Path = path
			}
			if cmd.Flags().Changed("dsn") {
				storeCfg.DSN = dsn
			}

			claims, err := store.Open(cmd.Context(), storeCfg, zap.L())
			if err != nil {
				return err
			}
			defer claims.Close()

			records, err := claims.List(cmd.Context())
			if err != nil {
				return err
			}

			table, err := formatClaims(records)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), table)
			return err
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&kind, "kind", "", "store kind (overrides "+tnclaim.EnvPrefix+"STORE_KIND)")
	cmd.Flags().StringVar(&path, "path", "", "pebble data directory (overrides "+tnclaim.EnvPrefix+"STORE_PATH)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string (overrides "+tnclaim.EnvPrefix+"STORE_DSN)")
	return cmd
}

func formatClaims(records []store.Record) (string, error) {
	rows := lo.Map(records, func(r store.Record, _ int) []string {
		return []string{strconv.FormatUint(r.TokenID, 10), r.Requester.Hex(), r.ClaimedAt.UTC().Format(time.RFC3339)}
	})
	return markdown.NewTableFormatterBuilder().
		WithPrettyPrint().
		Build("Token ID", "Requester", "Claimed At").
		Format(rows)
}
