package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLodgesCmd(root *rootOptions) *cobra.Command {
	var parkName string
	c := &cobra.Command{
		Use:   "lodges",
		Short: "List the lodges and campsites of a park",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(root)
			if err != nil {
				return err
			}
			v, err := a.registry.Lookup(parkName)
			if err != nil {
				return err
			}
			checker, err := a.checker(v)
			if err != nil {
				return err
			}
			if err := checker.Ping(ctx, v); err != nil {
				return err
			}
			if v.RequiresLogin() {
				if err := checker.Auth.Login(ctx, false); err != nil {
					return err
				}
			}
			target, err := v.Prepare(ctx, checker.Fetcher)
			if err != nil {
				return err
			}
			lodges, err := v.Lodges(ctx, checker.Fetcher, target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s路線的山屋/營地：\n", v.Park())
			for _, l := range lodges {
				fmt.Fprintf(out, "  %s\t(%s)\n", l.Name, l.ID)
			}
			return nil
		},
	}
	c.Flags().StringVarP(&parkName, "park", "p", "", "national park (玉山, 雪霸, 太魯閣, 嘉明湖)")
	c.MarkFlagRequired("park")
	return c
}
