package main

import (
	"encoding/json"

	"github.com/dd0wney/roadnet/pkg/api"
	"github.com/dd0wney/roadnet/pkg/service"
	"github.com/spf13/cobra"
)

func newCustomerCmd(opts *rootOptions) *cobra.Command {
	customerCmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}

	customerCmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a customer and print its API key",
		Long: `Create a customer and print its API key as JSON. The key is shown only
once; it is stored as a bcrypt hash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			s, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := service.New(s, service.Options{Logger: logger}).CreateCustomer(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.CustomerResponse{
				ID:        created.Customer.ID,
				Name:      created.Customer.Name,
				APIKey:    created.APIKey,
				CreatedAt: created.Customer.CreatedAt,
			})
		},
	})
	return customerCmd
}
