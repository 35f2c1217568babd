package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/middleware"
	"github.com/mir00r/sip-dispatcher/internal/repository"
)

func newCheckListCmd() *cobra.Command {
	var (
		format string
		strict bool
		dump   bool
	)
	cmd := &cobra.Command{
		Use:   "check-list [file]",
		Short: "Parse a destination list and report the rows that would be skipped",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Dispatcher.ListFile = args[0]
			}
			if format != "" {
				cfg.Dispatcher.ListFormat = format
			}
			if cfg.Dispatcher.ListFile == "" {
				return fmt.Errorf("no list file given")
			}

			source, err := repository.NewListSource(cfg.Dispatcher)
			if err != nil {
				return err
			}
			opts, err := dispatcher.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}
			opts.StrictLoad = strict
			// Resolution is not part of the check
			opts.DNSMode = domain.DNSResolveNone

			ds := dispatcher.New(opts, dispatcher.WithLogger(log))
			res, err := ds.Reload(context.Background(), source)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d sets, %d destinations loaded, %d skipped\n",
				cfg.Dispatcher.ListFile, res.Sets, res.Loaded, res.Skipped)
			for _, rowErr := range res.Errors {
				fmt.Fprintf(out, "  %v\n", rowErr)
			}
			if dump && ds.Ready() {
				return ds.PrintList(out)
			}
			if res.Skipped > 0 {
				return fmt.Errorf("%d rows skipped", res.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "List format: text or yaml (default from config)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on the first invalid row")
	cmd.Flags().BoolVar(&dump, "print", false, "Print the loaded sets")
	return cmd
}

func newHashCmd() *cobra.Command {
	var (
		slots    int
		uri      string
		userOnly bool
	)
	cmd := &cobra.Command{
		Use:   "hash [x [y]]",
		Short: "Compute the dispatcher hash of one or two values or of a SIP URI",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var x, y string
			switch {
			case uri != "":
				user, host, err := dispatcher.URIHashKeys(uri, userOnly)
				if err != nil {
					return fmt.Errorf("invalid uri %q: %w", uri, err)
				}
				x, y = user, host
			case len(args) == 0:
				return fmt.Errorf("give a value or --uri")
			default:
				x = args[0]
				if len(args) == 2 {
					y = args[1]
				}
			}

			hash, slot := dispatcher.HashSlot(slots, x, y)
			if slots > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "hash=%d slot=%d/%d\n", hash, slot, slots)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "hash=%d\n", hash)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&slots, "slots", 0, "Reduce the hash modulo this many slots")
	cmd.Flags().StringVar(&uri, "uri", "", "Hash the user and host of this SIP URI")
	cmd.Flags().BoolVar(&userOnly, "user-only", false, "Hash only the user part of --uri")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := middleware.NewJWTAuth(cfg.Admin.JWTSecret, log).IssueToken(subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{middleware.RoleAdmin}, "Granted roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
