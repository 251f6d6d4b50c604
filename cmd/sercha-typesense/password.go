package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-typesense/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a principal password read from stdin",
		Long: `Read one line from stdin and print the bcrypt hash to put in a
principal's password_hash in the static configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil {
					return fmt.Errorf("%w: no password on stdin: %v", domain.ErrInvalidInput, err)
				}
				return fmt.Errorf("%w: empty password", domain.ErrInvalidInput)
			}
			hash, err := auth.NewAdapter(auth.Config{BcryptCost: cost}).HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}
