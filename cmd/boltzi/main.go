// boltzi is a small CLI for exploring theory engine scenarios against the
// synthetic solver.
//
// Usage:
//
//	boltzi [options] <scenario-file>
//
// Options:
//
//	-r, --run            Evaluate every scenario point, print a summary, and exit
//	-d, --dump <file>    Write a JSON session dump after running (implies --run)
//	-s, --slots <n>      Override the scenario's slot pool size
//	    --strict         Treat rejected points as fatal
//	    --no-cache       Recompute every point
//	-v, --verbose        Enable debug logging
//
// Commands (in REPL):
//
//	eval <name=val> [name=val...]   Evaluate one parameter point
//	run                             Evaluate all scenario points
//	hubble <z> [unit]               Hubble rate of the current point
//	growth <z>                      Growth rate of the current point
//	cmb <l> [unit]                  Angular power spectra at one multipole
//	pk <z> <k>                      Matter power via interpolation
//	derived                         Derived parameters of the current point
//	param <name>                    One scalar of the current point
//	config                          Show the solver configuration
//	dump <file>                     Write the session dump atomically
//	help                            Show this help
//	exit / quit / q                 Exit
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/boltzcache/internal/scenario"
	"github.com/calvinalkan/boltzcache/pkg/theory"
	"github.com/calvinalkan/boltzcache/pkg/theory/theorytest"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("boltzi", flag.ContinueOnError)

	batch := fs.BoolP("run", "r", false, "evaluate every scenario point and exit")
	dumpPath := fs.StringP("dump", "d", "", "write a JSON session dump after running")
	slots := fs.IntP("slots", "s", 0, "override the scenario's slot pool size")
	strict := fs.Bool("strict", false, "treat rejected points as fatal")
	noCache := fs.Bool("no-cache", false, "recompute every point")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: boltzi [options] <scenario-file>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()

		return errors.New("missing scenario file path")
	}

	sc, err := scenario.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	opts := sc.EngineOptions()

	if *slots > 0 {
		opts.Slots = *slots
	}

	if *strict {
		opts.Strict = true
	}

	if *noCache {
		opts.NoCache = true
	}

	if *verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	eng, err := theory.New(&theorytest.Solver{}, opts)
	if err != nil {
		return err
	}

	if err := sc.Declare(eng); err != nil {
		return err
	}

	if err := eng.Build(); err != nil {
		return err
	}

	session := &session{engine: eng, points: sc.Points}

	if *batch || *dumpPath != "" {
		if err := session.runAll(os.Stdout); err != nil {
			return err
		}

		if *dumpPath != "" {
			return session.dump(*dumpPath)
		}

		return nil
	}

	repl := &REPL{session: session}

	return repl.Run()
}

// record is one evaluated point in the session log.
type record struct {
	Params  map[string]float64 `json:"params"`
	Status  string             `json:"status"`
	Derived map[string]float64 `json:"derived,omitempty"`
}

// session drives one engine over scenario points and logs every
// evaluation.
type session struct {
	engine  *theory.Engine
	points  []map[string]float64
	records []record
}

func (s *session) evaluate(params map[string]float64) (theory.Evaluation, error) {
	ev, err := s.engine.Evaluate(params, true)
	if err != nil {
		return theory.Evaluation{}, err
	}

	s.records = append(s.records, record{
		Params:  params,
		Status:  ev.Status.String(),
		Derived: ev.Derived,
	})

	return ev, nil
}

func (s *session) runAll(w io.Writer) error {
	if len(s.points) == 0 {
		return errors.New("scenario has no points to run")
	}

	for i, point := range s.points {
		ev, err := s.evaluate(point)
		if err != nil {
			return fmt.Errorf("point %d: %w", i+1, err)
		}

		fmt.Fprintf(w, "point %d: %s %v\n", i+1, ev.Status, point)
	}

	return nil
}

// dump writes the session log as JSON. The write is atomic so a partially
// written dump never replaces an older one.
func (s *session) dump(path string) error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing session dump: %w", err)
	}

	fmt.Printf("wrote %d records to %s\n", len(s.records), path)

	return nil
}

// REPL is the interactive command loop.
type REPL struct {
	session *session
	liner   *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".boltzi_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("boltzi - theory engine CLI (%d scenario points loaded)\n", len(r.session.points))
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("boltzi> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "eval":
			r.cmdEval(args)

		case "run":
			if err := r.session.runAll(os.Stdout); err != nil {
				fmt.Printf("run failed: %v\n", err)
			}

		case "hubble":
			r.cmdHubble(args)

		case "growth":
			r.cmdGrowth(args)

		case "cmb":
			r.cmdCMB(args)

		case "pk":
			r.cmdPk(args)

		case "derived":
			r.cmdDerived()

		case "param":
			r.cmdParam(args)

		case "config":
			r.cmdConfig()

		case "dump":
			r.cmdDump(args)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	commands := []string{
		"eval", "run",
		"hubble", "growth", "cmb", "pk",
		"derived", "param", "config",
		"dump", "clear", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  eval <name=val> [name=val...]   Evaluate one parameter point")
	fmt.Println("  run                             Evaluate all scenario points")
	fmt.Println("  hubble <z> [unit]               Hubble rate of the current point (1/Mpc or km/s/Mpc)")
	fmt.Println("  growth <z>                      Growth rate of the current point")
	fmt.Println("  cmb <l> [unit]                  Angular power spectra at one multipole (1, muK2, K2)")
	fmt.Println("  pk <z> <k>                      Matter power via interpolation")
	fmt.Println("  derived                         Derived parameters of the current point")
	fmt.Println("  param <name>                    One scalar of the current point")
	fmt.Println("  config                          Show the solver configuration")
	fmt.Println("  dump <file>                     Write the session dump atomically")
	fmt.Println("  help                            Show this help")
	fmt.Println("  exit / quit / q                 Exit")
}

func (r *REPL) cmdEval(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: eval <name=val> [name=val...]")

		return
	}

	params := make(map[string]float64, len(args))

	for _, arg := range args {
		name, raw, found := strings.Cut(arg, "=")
		if !found {
			fmt.Printf("malformed assignment %q (want name=value)\n", arg)

			return
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fmt.Printf("invalid value in %q: %v\n", arg, err)

			return
		}

		params[name] = value
	}

	ev, err := r.session.evaluate(params)
	if err != nil {
		fmt.Printf("evaluation failed: %v\n", err)

		return
	}

	fmt.Printf("status: %s\n", ev.Status)

	for name, value := range ev.Derived {
		fmt.Printf("  %s = %g\n", name, value)
	}
}

func (r *REPL) cmdHubble(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: hubble <z> [unit]")

		return
	}

	z, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		fmt.Printf("invalid redshift %q\n", args[0])

		return
	}

	unit := theory.UnitInverseMpc
	if len(args) > 1 {
		unit = theory.HubbleUnit(args[1])
	}

	values, err := r.session.engine.Hubble([]float64{z}, unit)
	if err != nil {
		fmt.Printf("hubble failed: %v\n", err)

		return
	}

	fmt.Printf("H(%g) = %g %s\n", z, values[0], unit)
}

func (r *REPL) cmdGrowth(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: growth <z>")

		return
	}

	z, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		fmt.Printf("invalid redshift %q\n", args[0])

		return
	}

	values, err := r.session.engine.GrowthRate([]float64{z})
	if err != nil {
		fmt.Printf("growth failed: %v\n", err)

		return
	}

	fmt.Printf("fsigma8(%g) = %g\n", z, values[0])
}

func (r *REPL) cmdCMB(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: cmb <l> [unit]")

		return
	}

	l, err := strconv.Atoi(args[0])
	if err != nil || l < 0 {
		fmt.Printf("invalid multipole %q\n", args[0])

		return
	}

	opts := theory.CMBPowerOptions{EllWeight: true}
	if len(args) > 1 {
		opts.Unit = theory.CMBUnit(args[1])
	}

	cls, err := r.session.engine.CMBPower(opts)
	if err != nil {
		fmt.Printf("cmb failed: %v\n", err)

		return
	}

	if l >= len(cls.Ell) {
		fmt.Printf("multipole %d beyond computed ceiling %d\n", l, len(cls.Ell)-1)

		return
	}

	fmt.Printf("l=%d  TT=%g  EE=%g  BB=%g  TE=%g", l, cls.TT[l], cls.EE[l], cls.BB[l], cls.TE[l])

	if cls.PP != nil {
		fmt.Printf("  PP=%g", cls.PP[l])
	}

	fmt.Println()
}

func (r *REPL) cmdPk(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: pk <z> <k>")

		return
	}

	z, errZ := strconv.ParseFloat(args[0], 64)
	k, errK := strconv.ParseFloat(args[1], 64)

	if errZ != nil || errK != nil {
		fmt.Println("invalid z or k")

		return
	}

	interp, err := r.session.engine.PkInterpolator(theory.VarPair{}, false, 0)
	if err != nil {
		fmt.Printf("pk failed: %v\n", err)

		return
	}

	value, err := interp.P(z, k)
	if err != nil {
		fmt.Printf("pk failed: %v\n", err)

		return
	}

	fmt.Printf("P(z=%g, k=%g) = %g\n", z, k, value)
}

func (r *REPL) cmdDerived() {
	if len(r.session.records) == 0 {
		fmt.Println("nothing evaluated yet")

		return
	}

	last := r.session.records[len(r.session.records)-1]
	if len(last.Derived) == 0 {
		fmt.Println("no derived parameters declared")

		return
	}

	for name, value := range last.Derived {
		fmt.Printf("%s = %g\n", name, value)
	}
}

func (r *REPL) cmdParam(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: param <name>")

		return
	}

	value, err := r.session.engine.Param(args[0])
	if err != nil {
		fmt.Printf("param failed: %v\n", err)

		return
	}

	fmt.Printf("%s = %g\n", args[0], value)
}

func (r *REPL) cmdConfig() {
	cfg, err := r.session.engine.Config()
	if err != nil {
		fmt.Printf("config failed: %v\n", err)

		return
	}

	fmt.Printf("max_l:         %d\n", cfg.MaxL)
	fmt.Printf("k_max:         %g\n", cfg.KMax)
	fmt.Printf("redshifts:     %v\n", cfg.Redshifts)
	fmt.Printf("perturbations: %v\n", cfg.Perturbations)
	fmt.Printf("non_linear:    %v\n", cfg.NonLinear)
	fmt.Printf("want_cmb:      %v\n", cfg.WantCMB)
	fmt.Printf("want_transfer: %v\n", cfg.WantTransfer)

	if len(cfg.Sources) > 0 {
		fmt.Printf("sources:       %d windows\n", len(cfg.Sources))
	}

	if len(cfg.Extras) > 0 {
		fmt.Printf("extras:        %v\n", cfg.Extras)
	}
}

func (r *REPL) cmdDump(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: dump <file>")

		return
	}

	if err := r.session.dump(args[0]); err != nil {
		fmt.Printf("dump failed: %v\n", err)
	}
}
