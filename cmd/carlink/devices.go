package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/carlink/dongle"
)

func devicesCmd(g *globalFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached dongles",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(g.backend)
			if err != nil {
				return err
			}
			defer backend.Close()

			infos, err := backend.Devices(cmd.Context())
			if err != nil {
				return err
			}
			n := 0
			for _, info := range infos {
				known := dongle.IsKnown(info)
				if !all && !known {
					continue
				}
				mark := " "
				if known {
					mark = "*"
				}
				fmt.Printf("%s %s\n", mark, info)
				n++
			}
			if n == 0 {
				fmt.Println("No dongle attached.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "List every USB device; dongles are marked with *")
	return cmd
}
