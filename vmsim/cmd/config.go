package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chronos-systems/vmsim/datarecording"
	"github.com/chronos-systems/vmsim/machine"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
	"github.com/chronos-systems/vmsim/tracing"
)

const (
	flagMemory   = "memory"
	flagPolicy   = "fork-policy"
	flagParanoid = "paranoid"
	flagTraceDB  = "trace-db"
	flagLog      = "log"
	flagLogKinds = "log-kinds"
	flagShares   = "share-capacity"
)

// Environment variables read before the flags.
const (
	envMemory   = "VMSIM_MEMORY_MB"
	envPolicy   = "VMSIM_FORK_POLICY"
	envParanoid = "VMSIM_PARANOID"
	envTraceDB  = "VMSIM_TRACE_DB"
)

type config struct {
	memoryMB uint64
	policy   vmm.ForkPolicy
	paranoid bool
	shares   int
	traceDB  string
	log      bool
	logKinds []string
}

func defaultConfig() config {
	return config{
		memoryMB: 64,
		policy:   vmm.FullCopy,
	}
}

// loadEnv reads .env from the working directory if there is one. Variables
// already set in the environment win.
func loadEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading .env: %w", err)
	}

	return nil
}

// applyEnv overrides c with the VMSIM_* variables that getenv knows.
func (c config) applyEnv(getenv func(string) string) (config, error) {
	if v := getenv(envMemory); v != "" {
		mb, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("%s: %w", envMemory, err)
		}

		c.memoryMB = mb
	}

	if v := getenv(envPolicy); v != "" {
		p, err := vmm.ParseForkPolicy(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", envPolicy, err)
		}

		c.policy = p
	}

	if v := getenv(envParanoid); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", envParanoid, err)
		}

		c.paranoid = b
	}

	if v := getenv(envTraceDB); v != "" {
		c.traceDB = v
	}

	return c, nil
}

// applyFlags overrides c with the flags given on the command line.
func (c config) applyFlags(cmd *cobra.Command) (config, error) {
	flags := cmd.Flags()

	if flags.Changed(flagMemory) {
		c.memoryMB, _ = flags.GetUint64(flagMemory)
	}

	if flags.Changed(flagPolicy) {
		s, _ := flags.GetString(flagPolicy)

		p, err := vmm.ParseForkPolicy(s)
		if err != nil {
			return c, err
		}

		c.policy = p
	}

	if flags.Changed(flagParanoid) {
		c.paranoid, _ = flags.GetBool(flagParanoid)
	}

	if flags.Changed(flagTraceDB) {
		c.traceDB, _ = flags.GetString(flagTraceDB)
	}

	c.shares, _ = flags.GetInt(flagShares)
	c.log, _ = flags.GetBool(flagLog)
	c.logKinds, _ = flags.GetStringSlice(flagLogKinds)

	if len(c.logKinds) > 0 {
		c.log = true
	}

	return c, nil
}

func loadConfig(cmd *cobra.Command) (config, error) {
	if err := loadEnv(); err != nil {
		return config{}, err
	}

	c, err := defaultConfig().applyEnv(os.Getenv)
	if err != nil {
		return c, err
	}

	c, err = c.applyFlags(cmd)
	if err != nil {
		return c, err
	}

	return c, c.validate()
}

// validate rejects settings the machine builder would refuse.
func (c config) validate() error {
	bytes := c.memoryMB << 20
	if c.memoryMB > machine.MaxMemory>>20 || bytes < machine.MinMemory ||
		bytes > machine.MaxMemory {
		return fmt.Errorf("memory must be between %d and %d MiB, got %d",
			machine.MinMemory>>20, machine.MaxMemory>>20, c.memoryMB)
	}

	if c.shares < 0 {
		return fmt.Errorf("share capacity must not be negative, got %d",
			c.shares)
	}

	return nil
}

// session is a booted machine together with the tracers watching it.
type session struct {
	machine  *machine.Machine
	counter  *tracing.CountTracer
	db       *tracing.DBTracer
	recorder datarecording.DataRecorder
}

func (c config) boot(name string) (*session, error) {
	s := &session{counter: tracing.NewCountTracer()}

	b := machine.MakeBuilder().
		WithMemory(c.memoryMB << 20).
		WithForkPolicy(c.policy).
		WithParanoid(c.paranoid).
		WithHook(s.counter)

	if c.shares > 0 {
		b = b.WithShareCapacity(c.shares)
	}

	if c.log {
		logger := log.New(os.Stderr, "", log.Lmicroseconds)
		b = b.WithHook(tracing.NewLogTracer(logger, c.logKinds...))
	}

	if c.traceDB != "" {
		file := strings.TrimSuffix(c.traceDB, ".sqlite3") + ".sqlite3"
		if _, err := os.Stat(file); err == nil {
			return nil, fmt.Errorf("recording %s already exists", file)
		}

		s.recorder = datarecording.New(strings.TrimSuffix(file, ".sqlite3"))
		s.db = tracing.NewDBTracer(s.recorder)
		b = b.WithHook(s.db)
	}

	m, err := b.Build(name)
	if err != nil {
		s.close()
		return nil, err
	}

	s.machine = m

	return s, nil
}

func (s *session) close() {
	if s.recorder == nil {
		return
	}

	s.db.Terminate()

	if err := s.recorder.Close(); err != nil {
		log.Printf("closing recording: %v", err)
	}

	s.recorder = nil
}

func (s *session) printStats(w io.Writer) {
	st := s.machine.Stats()

	fmt.Fprintf(w, "policy:      %s\n", st.Policy)
	fmt.Fprintf(w, "free frames: %d of %d\n", st.FreeFrames, st.StartFrames)
	fmt.Fprintf(w, "spaces:      %d\n", st.Spaces)
	fmt.Fprintf(w, "shared:      %d frames\n", st.Shares)
	fmt.Fprintf(w, "processes:   %d\n", st.Processes)
}

func (s *session) printCounts(w io.Writer) {
	for _, k := range s.counter.Kinds() {
		fmt.Fprintf(w, "%-12s %d\n", k, s.counter.Count(k))
	}
}
