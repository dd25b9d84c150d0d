package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronos-systems/vmsim/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Boot a machine and serve its memory state over HTTP.",
	Long: `monitor boots a machine and starts the monitoring server. With ` +
		`--stress it keeps the machine busy with random operations while ` +
		`the page is open. Stop it with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		open, _ := cmd.Flags().GetBool("open")
		steps, _ := cmd.Flags().GetUint64("stress")
		seed, _ := cmd.Flags().GetUint64("seed")

		s, err := cfg.boot("Machine")
		if err != nil {
			return err
		}
		defer s.close()

		mon := monitoring.NewMonitor().
			WithPortNumber(port).
			WithBrowser(open)
		mon.RegisterInspector(s.machine)
		mon.RegisterFrameCounter(s.machine)
		mon.RegisterEventCounter(s.counter)
		mon.RegisterComponent(s.machine.Frames())
		mon.RegisterComponent(s.machine.VMM())

		url := mon.StartServer()
		fmt.Printf("serving %s\n", url)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if steps > 0 {
			go func() {
				bar := mon.CreateProgressBar("stress", steps)
				err := newStress(s.machine, bar, seed, 16).run(ctx, steps)
				if err != nil && ctx.Err() == nil {
					fmt.Fprintf(os.Stderr, "stress: %v\n", err)
				}

				time.Sleep(time.Second)
				mon.CompleteProgressBar(bar)
			}()
		}

		<-ctx.Done()

		return nil
	},
}

func init() {
	monitorCmd.Flags().Int("port", 0, "port to listen on, random if 0")
	monitorCmd.Flags().Bool("open", false, "open the page in a browser")
	monitorCmd.Flags().Uint64("stress", 0, "random operations to run")
	monitorCmd.Flags().Uint64("seed", 1, "random seed for --stress")
	rootCmd.AddCommand(monitorCmd)
}
