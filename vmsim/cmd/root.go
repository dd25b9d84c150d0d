// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim boots a simulated 32-bit machine and exercises its memory manager.",
	Long: `vmsim boots a simulated 32-bit machine with paged virtual memory and ` +
		`runs workloads against its kernel memory manager. Settings can also ` +
		`come from VMSIM_* variables in the environment or in a .env file.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Uint64(flagMemory, 0, "physical memory in MiB (default 64)")
	flags.String(flagPolicy, "", `fork policy, "copy" or "cow"`)
	flags.Bool(flagParanoid, false, "check the free list after every operation")
	flags.Int(flagShares, 0, "share table records (default 512)")
	flags.String(flagTraceDB, "",
		"record every memory event in <name>.sqlite3")
	flags.Bool(flagLog, false, "log memory events to stderr")
	flags.StringSlice(flagLogKinds, nil,
		"only log these event kinds, e.g. Map,COWBreak")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Registered exit handlers always run, so open recordings are
// flushed.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
