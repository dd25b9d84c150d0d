package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronos-systems/vmsim/machine"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/share"
	"github.com/chronos-systems/vmsim/monitoring"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run random process operations and check that no frame leaks.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		steps, _ := cmd.Flags().GetUint64("steps")
		seed, _ := cmd.Flags().GetUint64("seed")
		procs, _ := cmd.Flags().GetInt("max-procs")

		s, err := cfg.boot("Machine")
		if err != nil {
			return err
		}
		defer s.close()

		mon := monitoring.NewMonitor()
		bar := mon.CreateProgressBar("stress", steps)
		defer mon.CompleteProgressBar(bar)

		stop := reportProgress(bar, time.Second)
		err = newStress(s.machine, bar, seed, procs).run(cmd.Context(), steps)
		stop()

		if err != nil {
			return err
		}

		fmt.Printf("%d steps done, %d refused\n", bar.Finished, bar.Failed)
		s.printStats(os.Stdout)
		s.printCounts(os.Stdout)

		return nil
	},
}

func init() {
	stressCmd.Flags().Uint64("steps", 1000, "number of random operations")
	stressCmd.Flags().Uint64("seed", 1, "random seed")
	stressCmd.Flags().Int("max-procs", 16, "maximum number of live processes")
	rootCmd.AddCommand(stressCmd)
}

// reportProgress prints the bar to stderr every interval until the returned
// function is called.
func reportProgress(bar *monitoring.ProgressBar, interval time.Duration) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r%s: %5.1f%% (%d/%d) %s",
					bar.Name, bar.Percent(), bar.Done(), bar.Total,
					bar.Elapsed().Round(time.Second))
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		fmt.Fprintln(os.Stderr)
	}
}

// stress drives a machine with random process operations. Operations that
// the kernel refuses on purpose, such as a write to text, count as failed
// steps. Anything else ends the run.
type stress struct {
	m        *machine.Machine
	bar      *monitoring.ProgressBar
	rand     *rand.Rand
	maxProcs int
	pids     []int
}

func newStress(
	m *machine.Machine,
	bar *monitoring.ProgressBar,
	seed uint64,
	maxProcs int,
) *stress {
	return &stress{
		m:        m,
		bar:      bar,
		rand:     rand.New(rand.NewPCG(seed, seed^0x5EED)),
		maxProcs: max(1, maxProcs),
	}
}

func (s *stress) run(ctx context.Context, steps uint64) error {
	baseline := s.m.Stats().FreeFrames

	for i := uint64(0); i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.bar.Start(1)

		err := s.step()

		switch {
		case err == nil:
			s.bar.Finish(1)
		case refused(err):
			s.bar.Fail(1)
		default:
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	for len(s.pids) > 0 {
		if err := s.exit(); err != nil {
			return err
		}
	}

	if free := s.m.Stats().FreeFrames; free != baseline {
		return fmt.Errorf("%d frames leaked", baseline-free)
	}

	return s.m.CheckFreeList()
}

func refused(err error) bool {
	return errors.Is(err, vm.ErrSegfault) ||
		errors.Is(err, vm.ErrStackOverflow) ||
		errors.Is(err, machine.ErrHeapFull) ||
		errors.Is(err, machine.ErrTooManyArgs) ||
		errors.Is(err, share.ErrTableFull)
}

func (s *stress) step() error {
	if len(s.pids) == 0 {
		return s.spawn()
	}

	switch s.rand.IntN(9) {
	case 0:
		return s.spawn()
	case 1:
		return s.fork()
	case 2, 3:
		return s.write()
	case 4:
		return s.read()
	case 5:
		return s.sbrk()
	case 6:
		return s.exec()
	case 7:
		return s.m.Switch(s.pickOrKernel())
	default:
		return s.exit()
	}
}

func (s *stress) image() machine.Image {
	text := make([]byte, 1+s.rand.IntN(2*vm.PageSize))
	data := make([]byte, s.rand.IntN(vm.PageSize))

	return machine.Image{Text: text, Data: data}
}

func (s *stress) spawn() error {
	if len(s.pids) >= s.maxProcs {
		return s.exit()
	}

	pid, err := s.m.Spawn("stress", s.image())
	if err != nil {
		return err
	}

	s.pids = append(s.pids, pid)

	return nil
}

func (s *stress) fork() error {
	if len(s.pids) >= s.maxProcs {
		return s.exit()
	}

	pid, err := s.m.Fork(s.pick())
	if err != nil {
		return err
	}

	s.pids = append(s.pids, pid)

	return nil
}

// target picks an address of a process: text, data or heap, or somewhere
// below the stack.
func (s *stress) target(pid int) (vm.Addr, error) {
	p, err := s.m.Process(pid)
	if err != nil {
		return 0, err
	}

	switch s.rand.IntN(4) {
	case 0:
		return p.Entry + vm.Addr(s.rand.IntN(vm.PageSize)), nil
	case 1:
		span := uint32(p.Stack.HeapEnd-p.CodeEnd) + vm.PageSize
		return p.CodeEnd + vm.Addr(s.rand.Uint32N(span)), nil
	default:
		below := uint32(s.rand.IntN(vm.StackTolerance+4)) * vm.PageSize
		return p.Stack.StackEnd - vm.Addr(below) + 16, nil
	}
}

func (s *stress) write() error {
	pid := s.pick()

	at, err := s.target(pid)
	if err != nil {
		return err
	}

	buf := make([]byte, 1+s.rand.IntN(64))
	for i := range buf {
		buf[i] = byte(s.rand.Uint32())
	}

	_, err = s.m.Write(pid, at, buf)

	return err
}

func (s *stress) read() error {
	pid := s.pick()

	at, err := s.target(pid)
	if err != nil {
		return err
	}

	_, err = s.m.Read(pid, at, 1+s.rand.Uint32N(64))

	return err
}

func (s *stress) sbrk() error {
	_, err := s.m.Sbrk(s.pick(), s.rand.Uint32N(3*vm.PageSize))
	return err
}

func (s *stress) exec() error {
	args := make([]string, s.rand.IntN(machine.MaxArgs+2))
	for i := range args {
		args[i] = fmt.Sprintf("arg%d", i)
	}

	return s.m.Exec(s.pick(), "stress", s.image(), args)
}

func (s *stress) exit() error {
	i := s.rand.IntN(len(s.pids))
	pid := s.pids[i]

	s.pids[i] = s.pids[len(s.pids)-1]
	s.pids = s.pids[:len(s.pids)-1]

	return s.m.Exit(pid)
}

func (s *stress) pick() int {
	return s.pids[s.rand.IntN(len(s.pids))]
}

func (s *stress) pickOrKernel() int {
	if s.rand.IntN(4) == 0 {
		return 0
	}

	return s.pick()
}
