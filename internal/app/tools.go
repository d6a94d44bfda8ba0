package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/errorparty/backend/internal/auth"
	"github.com/errorparty/backend/internal/sharecode"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <share-code>",
		Short: "Print the match coordinates a share code carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := sharecode.Decode(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sc)
		},
	}
}

func newEncodeCmd() *cobra.Command {
	var sc sharecode.ShareCode
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a share code from match coordinates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := sharecode.Encode(sc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
			return err
		},
	}
	cmd.Flags().Uint64Var(&sc.MatchID, "match", 0, "match id")
	cmd.Flags().Uint64Var(&sc.OutcomeID, "outcome", 0, "reservation (outcome) id")
	cmd.Flags().Uint32Var(&sc.Token, "token", 0, "tv port token")
	_ = cmd.MarkFlagRequired("match")
	return cmd
}

func newAdminTokenCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Generate an admin bearer token and the hash to configure",
		Long:  "admin-token prints a fresh bearer token and its bcrypt hash. Set ERRORPARTY_ADMIN_TOKEN_HASH to the hash; the token itself is never stored. Pass --token to hash an existing token instead.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if token != "" {
				hash, err := auth.HashToken(token)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "hash:  %s\n", hash)
				return err
			}

			token, hash, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "token: %s\nhash:  %s\n", token, hash)
			return err
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "hash this token instead of generating one")
	return cmd
}
