package main

import "github.com/spf13/cobra"

var purgeTokensCmd = &cobra.Command{
	Use:   "purge-tokens",
	Short: "Delete expired refresh tokens once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.ledger.PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		c.log.Info().Int64("purged", n).Msg("expired refresh tokens purged")
		cmd.Printf("purged %d expired refresh tokens\n", n)
		return nil
	},
}
