package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/abraham-ai/mintmodifier/pkg/chain"
	"github.com/abraham-ai/mintmodifier/pkg/config"
	"github.com/abraham-ai/mintmodifier/pkg/reconciler"
	"github.com/abraham-ai/mintmodifier/pkg/store/mintevents"
)

// prepare parses flags, loads and validates the configuration and builds the
// logger. A non-zero code means the command should exit with it.
func prepare(cmd *flag.FlagSet, args []string, stderr io.Writer, validate bool) (*config.Config, int) {
	var configPath string
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	if err := cmd.Parse(args); err != nil {
		return nil, 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Invalid configuration:\n%v\n", err)
			return nil, 1
		}
	}
	return cfg, 0
}

// runCmd implements `mintmodifier run`.
func runCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	cfg, code := prepare(cmd, args, stderr, true)
	if cfg == nil {
		return code
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := signalContext()
	defer stop()

	s, err := buildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer shutdown(s, logger)

	if err := s.engine.Run(ctx); err != nil {
		logger.Error("reconciler exited", "error", err)
		return 1
	}
	return 0
}

// runOnceCmd implements `mintmodifier once`.
func runOnceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("once", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		cycles     int
		jsonOutput bool
	)
	cmd.IntVar(&cycles, "cycles", 1, "Number of cycles to run")
	cmd.BoolVar(&jsonOutput, "json", false, "Output cycle reports as JSON")

	cfg, code := prepare(cmd, args, stderr, true)
	if cfg == nil {
		return code
	}
	if cycles < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --cycles must be at least 1")
		return 2
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := signalContext()
	defer stop()

	s, err := buildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer shutdown(s, logger)

	reports, err := s.engine.RunCycles(ctx, cycles)
	if jsonOutput {
		data, _ := json.MarshalIndent(reports, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printReports(stdout, reports)
	}
	if err != nil {
		logger.Error("interrupted", "error", err)
		return 1
	}
	return 0
}

func printReports(w io.Writer, reports []reconciler.CycleReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CYCLE\tPENDING\tMINTED\tTASK_FAILED\tLEDGER_FAILED\tRETRYING\tDEFERRED\tERRORED")
	for _, r := range reports {
		if r.Skipped {
			_, _ = fmt.Fprintf(tw, "%s\tskipped (lease held elsewhere)\n", r.CycleID)
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.CycleID, r.Pending, r.Minted, r.TaskFailed, r.LedgerFailed, r.LedgerRetrying, r.Deferred, r.Errored)
	}
	_ = tw.Flush()
}

// runPendingCmd implements `mintmodifier pending`. It only reads the store.
func runPendingCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("pending", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output events as JSON")

	cfg, code := prepare(cmd, args, stderr, false)
	if cfg == nil {
		return code
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := signalContext()
	defer stop()

	s := &services{}
	defer shutdown(s, logger)
	if err := connectStore(ctx, cfg, s); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	events, err := s.store.FindPending(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if events == nil {
		events = []mintevents.MintEvent{}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(events, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintln(stdout, "No unacknowledged mint events.")
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TASK\tTOKEN\tTX_ATTEMPTS\tLAST_FAILURE")
	for _, ev := range events {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", ev.TaskID, ev.TokenID, ev.TxAttempts, ev.TxFailureReason)
	}
	_ = tw.Flush()
	return 0
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// runDoctorCmd implements `mintmodifier doctor`.
func runDoctorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	cfg, code := prepare(cmd, args, stderr, false)
	if cfg == nil {
		return code
	}
	logger := newLogger(cfg, io.Discard)

	ctx, stop := signalContext()
	defer stop()

	var results []checkResult
	allOK := true
	record := func(name string, err error, okDetail string) {
		if err != nil {
			results = append(results, checkResult{Name: name, Status: "fail", Detail: err.Error()})
			allOK = false
			return
		}
		results = append(results, checkResult{Name: name, Status: "ok", Detail: okDetail})
	}

	cfgErr := cfg.Validate()
	record("config", cfgErr, "valid")

	s := &services{}
	defer shutdown(s, logger)

	storeErr := connectStore(ctx, cfg, s)
	record("store", storeErr, cfg.Store.Backend)

	if cfg.Eden.APIKey != "" && cfg.Eden.APISecret != "" {
		_, err := newTaskClient(cfg).GetTasksByIDs(ctx, []string{uuid.Nil.String()})
		record("eden", err, cfg.Eden.BaseURL)
	} else {
		results = append(results, checkResult{Name: "eden", Status: "warn", Detail: "skipped: credentials not set"})
	}

	if cfgErr == nil {
		w, err := dialWriter(ctx, cfg, s)
		detail := ""
		if err == nil {
			detail = fmt.Sprintf("chain %s, contract %s", w.chainID, w.contract)
		}
		record("ledger", err, detail)
	} else {
		results = append(results, checkResult{Name: "ledger", Status: "warn", Detail: "skipped: configuration invalid"})
	}

	if cfg.Lease.RedisAddr == "" {
		results = append(results, checkResult{Name: "lease", Status: "ok", Detail: "disabled (single instance)"})
	} else {
		err := newRedisClient(cfg, s).Ping(ctx).Err()
		record("lease", err, cfg.Lease.RedisAddr)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintln(stdout, "mintmodifier doctor")
		for _, r := range results {
			_, _ = fmt.Fprintf(stdout, "  %-5s %-10s %s\n", r.Status, r.Name, r.Detail)
		}
	}
	if allOK {
		return 0
	}
	return 1
}

type ledgerInfo struct {
	chainID  string
	contract string
}

func dialWriter(ctx context.Context, cfg *config.Config, s *services) (ledgerInfo, error) {
	w, err := chain.Dial(ctx, chainConfig(cfg))
	if err != nil {
		return ledgerInfo{}, err
	}
	s.onClose(func(context.Context) error { w.Close(); return nil })

	id, err := w.ChainID(ctx)
	if err != nil {
		return ledgerInfo{}, err
	}
	if id.Sign() == 0 {
		return ledgerInfo{}, errors.New("node reported chain id 0")
	}
	return ledgerInfo{chainID: id.String(), contract: w.Contract().Hex()}, nil
}
