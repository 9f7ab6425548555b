// martingalian-admin is the operator CLI. It talks straight to the database;
// the engine picks the resulting workflow blocks up on its next poll.
//
// Exit codes: 0 ok, 1 usage, 2 operational failure, 3 precondition not met.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"martingalian/config"
	"martingalian/internal/database"
	"martingalian/internal/logging"
	"martingalian/internal/workflows"
)

const (
	exitOK           = 0
	exitUsage        = 1
	exitFailure      = 2
	exitPrecondition = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := connect(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer db.Close()

	cli := &cli{db: db, enqueuer: &workflows.Enqueuer{DB: db}}

	switch args[0] {
	case "scheduler":
		return cli.scheduler(ctx, args[1:])
	case "kill-switch":
		return cli.killSwitch(ctx, args[1:])
	case "position":
		return cli.position(ctx, args[1:])
	case "account":
		return cli.account(ctx, args[1:])
	case "status":
		return cli.status(ctx)
	default:
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: martingalian-admin <command>

commands:
  status                        engine settings and open position counts
  scheduler start|stop          resume or pause admission of new positions
  kill-switch on|off [reason]   arm or clear the global kill switch
  position list                 list non-terminal positions
  position close <id>           close a position at market
  position cancel <id>          withdraw an unfilled ladder
  account list                  list accounts
  account enable|disable <id>   toggle an account`)
}

func connect(ctx context.Context) (*database.DB, error) {
	cfg, err := config.Load(os.Getenv("MARTINGALIAN_CONFIG"))
	if err != nil {
		return nil, err
	}
	logger := logging.New("error", false)
	return database.NewDB(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: 2,
		MinConns: 1,
	}, logger)
}

type cli struct {
	db       *database.DB
	enqueuer *workflows.Enqueuer
}

// ==================== SCHEDULER / KILL SWITCH ====================

func (c *cli) scheduler(ctx context.Context, args []string) int {
	if len(args) != 1 {
		usage()
		return exitUsage
	}
	var enabled bool
	switch args[0] {
	case "start":
		enabled = true
	case "stop":
		enabled = false
	default:
		usage()
		return exitUsage
	}
	if err := c.db.SetSchedulerEnabled(ctx, enabled); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	if enabled {
		fmt.Println("scheduler started")
	} else {
		fmt.Println("scheduler stopped, running workflows are unaffected")
	}
	return exitOK
}

func (c *cli) killSwitch(ctx context.Context, args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}
	var on bool
	switch args[0] {
	case "on":
		on = true
	case "off":
		on = false
	default:
		usage()
		return exitUsage
	}
	reason := "operator"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if err := c.db.SetKillSwitch(ctx, on, reason); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	if on {
		fmt.Printf("kill switch armed (%s)\n", reason)
	} else {
		fmt.Println("kill switch cleared")
	}
	return exitOK
}

// ==================== POSITIONS ====================

func (c *cli) position(ctx context.Context, args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}
	switch args[0] {
	case "list":
		return c.positionList(ctx)
	case "close":
		return c.positionAct(ctx, args[1:], "close")
	case "cancel":
		return c.positionAct(ctx, args[1:], "cancel")
	default:
		usage()
		return exitUsage
	}
}

func (c *cli) positionList(ctx context.Context) int {
	positions, err := c.db.ListPositionsByStatus(ctx,
		database.StatusNew, database.StatusOpening, database.StatusActive,
		database.StatusSyncing, database.StatusWaping, database.StatusWatching,
		database.StatusClosing, database.StatusCancelling, database.StatusFailed,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACCOUNT\tSYMBOL\tDIR\tSTATUS\tLEV\tWAP\tTP\tSL\tLAST ERROR")
	for _, p := range positions {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			p.ID, p.AccountID, p.SymbolID, p.Direction, p.Status, p.Leverage,
			decStr(p.Wap), decStr(p.ProfitPrice), decStr(p.StopPrice), strStr(p.LastError))
	}
	w.Flush()
	return exitOK
}

func (c *cli) positionAct(ctx context.Context, args []string, action string) int {
	if len(args) != 1 {
		usage()
		return exitUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid position id %q\n", args[0])
		return exitUsage
	}

	position, err := c.db.GetPositionByID(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}

	switch action {
	case "close":
		if !database.CanTransition(position.Status, database.StatusClosing) {
			fmt.Fprintf(os.Stderr, "position %d is %s, not closable\n", id, position.Status)
			return exitPrecondition
		}
		block, err := c.enqueuer.EnqueueClose(ctx, position, workflows.ReasonOperator)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		fmt.Printf("close enqueued for position %d (block %s)\n", id, block)
	case "cancel":
		if !database.CanTransition(position.Status, database.StatusCancelling) {
			fmt.Fprintf(os.Stderr, "position %d is %s, not cancellable\n", id, position.Status)
			return exitPrecondition
		}
		block, err := c.enqueuer.EnqueueCancel(ctx, position)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		fmt.Printf("cancel enqueued for position %d (block %s)\n", id, block)
	}
	return exitOK
}

// ==================== ACCOUNTS ====================

func (c *cli) account(ctx context.Context, args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}
	switch args[0] {
	case "list":
		return c.accountList(ctx)
	case "enable", "disable":
		if len(args) != 2 {
			usage()
			return exitUsage
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid account id %q\n", args[1])
			return exitUsage
		}
		account, err := c.db.GetAccountByID(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		if account.VaultPath == "" {
			fmt.Fprintf(os.Stderr, "account %d has no credential path\n", id)
			return exitPrecondition
		}
		if err := c.db.SetAccountActive(ctx, id, args[0] == "enable"); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		fmt.Printf("account %d %sd\n", id, args[0])
		return exitOK
	default:
		usage()
		return exitUsage
	}
}

func (c *cli) accountList(ctx context.Context) int {
	accounts, err := c.db.ListAccounts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEXCHANGE\tQUOTE\tNOTIONAL\tMAX POS\tACTIVE")
	for _, a := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%t\n",
			a.ID, a.Name, a.Exchange, a.Quote, a.NotionalPerPosition.String(),
			a.MaxConcurrentPositions, a.IsActive)
	}
	w.Flush()
	return exitOK
}

// ==================== STATUS ====================

func (c *cli) status(ctx context.Context) int {
	settings, err := c.db.GetEngineSettings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	fmt.Printf("kill switch:        %t", settings.KillSwitch)
	if settings.KillSwitch && settings.KillSwitchReason != nil {
		fmt.Printf(" (%s)", *settings.KillSwitchReason)
	}
	fmt.Println()
	fmt.Printf("scheduler enabled:  %t\n", settings.SchedulerEnabled)

	positions, err := c.db.ListPositionsByStatus(ctx,
		database.StatusOpening, database.StatusActive, database.StatusSyncing,
		database.StatusWaping, database.StatusWatching, database.StatusClosing,
		database.StatusCancelling, database.StatusFailed,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	counts := map[database.PositionStatus]int{}
	for _, p := range positions {
		counts[p.Status]++
	}
	fmt.Printf("open positions:     %d\n", len(positions))
	for status, n := range counts {
		fmt.Printf("  %-16s %d\n", status, n)
	}
	return exitOK
}

func decStr(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func strStr(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
