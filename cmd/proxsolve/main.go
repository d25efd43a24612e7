// Command proxsolve runs the solver backends on generated problems.
//
//	proxsolve solve --backend admm --rows 200 --cols 50 --lambda 0.1
//	proxsolve info
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "proxsolve",
	Short:         "Run proximal solver backends on generated problems",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.AddCommand(newSolveCmd(), newInfoCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "proxsolve:", err)
		stop()
		os.Exit(1)
	}
}
