package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(root *rootOptions) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "login",
		Short: "Log into the forestry member site and cache the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			if a.forest == nil {
				return errNoForestCredentials
			}
			if err := a.forest.Login(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged into %s\n", a.forest.Key())
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "log in even when a recent session is cached")
	return c
}
