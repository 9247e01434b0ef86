package main

import (
	"encoding/json"
	"errors"

	"github.com/dd0wney/roadnet/pkg/service"
	"github.com/spf13/cobra"
)

type restoreOptions struct {
	customer string
	network  string
	version  string
}

func newArchiveCmd(opts *rootOptions) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Work with archived network snapshots",
	}

	ropts := &restoreOptions{}
	restoreCmd := &cobra.Command{
		Use:   "restore KEY",
		Short: "Apply an archived snapshot as a new network version",
		Long: `Load the snapshot stored under KEY and apply it as a new version of the
customer's network, creating the network if it does not exist. Edges that
match the current graph keep their identity, as with any update.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !cfg.Archive.Enabled {
				return errors.New("archive is not enabled (archive.enabled)")
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			policy, err := cfg.Policy()
			if err != nil {
				return err
			}
			archiver, err := newArchiver(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			s, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			svc := service.New(s, service.Options{Policy: policy, Logger: logger, Archiver: archiver})
			customer, err := svc.CustomerByName(ctx, ropts.customer)
			if err != nil {
				return err
			}
			res, err := svc.Restore(ctx, customer.ID, ropts.network, ropts.version, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	restoreCmd.Flags().StringVar(&ropts.customer, "customer", "", "Customer name")
	restoreCmd.Flags().StringVar(&ropts.network, "network", "", "Network name")
	restoreCmd.Flags().StringVar(&ropts.version, "version", "", "Version label for the restored graph")
	for _, name := range []string{"customer", "network", "version"} {
		_ = restoreCmd.MarkFlagRequired(name)
	}

	archiveCmd.AddCommand(restoreCmd)
	return archiveCmd
}
