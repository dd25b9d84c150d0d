package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot a machine and print the state of its memory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		s, err := cfg.boot("Machine")
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.machine.CheckFreeList(); err != nil {
			return err
		}

		s.printStats(os.Stdout)
		s.printCounts(os.Stdout)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)
}
