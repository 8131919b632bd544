package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpms-portal/messaging/internal/middleware"
	"github.com/rpms-portal/messaging/internal/model"
)

var tokenUser model.User

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenUser.ID, "user", "", "user ID placed in the sub claim (required)")
	tokenCmd.Flags().StringVar((*string)(&tokenUser.Role), "role", "", "portal role: author, editor, coordinator or admin (required)")
	tokenCmd.Flags().StringVar(&tokenUser.Name, "name", "", "display name")
	tokenCmd.MarkFlagRequired("user")
	tokenCmd.MarkFlagRequired("role")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token signed with JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !tokenUser.Role.Valid() {
			return fmt.Errorf("unknown role %q", tokenUser.Role)
		}
		tok, err := middleware.IssueToken(cliSession.cfg.JWTSecret, tokenUser, cliSession.cfg.JWTExpiration)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
