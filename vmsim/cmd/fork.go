package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chronos-systems/vmsim/machine"
	"github.com/chronos-systems/vmsim/mem/vm"
)

var forkCmd = &cobra.Command{
	Use:   "fork",
	Short: "Walk through fork, copy-on-write, exec and exit.",
	Long: `fork spawns a process, forks it, writes to the child, replaces the ` +
		`child with a new program and exits both, printing the memory ` +
		`state after every step. Use --fork-policy=cow to see pages being ` +
		`shared and copied on write.`,
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

		return runForkDemo(s)
	},
}

func init() {
	rootCmd.AddCommand(forkCmd)
}

var demoImage = machine.Image{
	Text: make([]byte, vm.PageSize),
	Data: []byte("hello from the parent"),
}

func runForkDemo(s *session) error {
	m := s.machine
	data := vm.UVMLoad + vm.PageSize

	step := func(format string, args ...any) {
		fmt.Printf("== "+format+"\n", args...)
		s.printStats(os.Stdout)
	}

	parent, err := m.Spawn("init", demoImage)
	if err != nil {
		return err
	}

	step("spawned init as pid %d", parent)

	child, err := m.Fork(parent)
	if err != nil {
		return err
	}

	ret, err := m.ReturnValue(parent)
	if err != nil {
		return err
	}

	step("forked pid %d, fork returned %d to the parent", child, ret)

	if _, err := m.Write(child, data, []byte("HELLO")); err != nil {
		return err
	}

	step("child wrote its data page, %d copy-on-write breaks so far",
		s.counter.Count("COWBreak"))

	for _, pid := range []int{parent, child} {
		got, err := m.Read(pid, data, uint32(len(demoImage.Data)))
		if err != nil {
			return err
		}

		fmt.Printf("pid %d sees %q\n", pid, got)
	}

	err = m.Exec(child, "echo", machine.Image{Text: []byte{0xC3}},
		[]string{"echo", "done"})
	if err != nil {
		return err
	}

	p, err := m.Process(child)
	if err != nil {
		return err
	}

	step("pid %d is now %s, sp=%s", child, p.Name, p.SP)

	for _, pid := range []int{child, parent} {
		if err := m.Exit(pid); err != nil {
			return err
		}
	}

	step("both processes exited")
	s.printCounts(os.Stdout)

	return m.CheckFreeList()
}
