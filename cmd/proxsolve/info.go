package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-prox/gpu"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the compute device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gpu.RegisterMockBackend()
			dev, err := gpu.Open(gpu.Options{})
			if err != nil {
				return err
			}
			defer dev.Close()

			be, _ := gpu.CurrentBackendInfo()
			d := dev.Info()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend: %s %s (%s)\n", be.Name, be.Version, be.Description)
			fmt.Fprintf(out, "device:  %s, vendor %s, driver %s\n", d.Name, d.Vendor, d.Driver)
			fmt.Fprintf(out, "compute: %s\n", d.ComputeCap)
			return nil
		},
	}
}
