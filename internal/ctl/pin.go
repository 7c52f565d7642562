package ctl

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/server/auth"
	"github.com/dmitrijs2005/pindrop/internal/server/pincodec"
	"github.com/spf13/cobra"
)

func newPinCmd(opts *options) *cobra.Command {
	pin := &cobra.Command{
		Use:   "pin",
		Short: "PIN helpers",
	}

	var count int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print fresh PINs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			codec, err := pincodec.New(cfg.PinEncryptionKey, cfg.PinHashKey)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				p, err := codec.GeneratePin()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	generate.Flags().IntVarP(&count, "count", "n", 1, "number of PINs")

	check := &cobra.Command{
		Use:   "check <pin>",
		Short: "Tell whether a PIN is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := pincodec.Normalize(args[0])
			if !pincodec.Valid(p) {
				return fmt.Errorf("%q is not a PIN", args[0])
			}
			format := "current"
			if len(p) == pincodec.LegacyLength {
				format = "legacy"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, %s format\n", p, format)
			return nil
		},
	}

	pin.AddCommand(generate, check)
	return pin
}

func newTokenCmd(opts *options) *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an owner access token signed with the server secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AccessTokenValidityDuration
			}
			tok, err := auth.GenerateToken(auth.Identity{UserID: userID, Email: email}, []byte(cfg.SecretKey), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "owner id (required)")
	cmd.Flags().StringVar(&email, "email", "", "owner email, used for shared bucket listings")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: the server's access token validity)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
