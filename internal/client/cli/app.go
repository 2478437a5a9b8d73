package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mittimoney/mittimoney/internal/client/services"
	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/client/syncer"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/shopspring/decimal"
)

// Manager is the part of the Sync Manager the REPL drives.
type Manager interface {
	Sync(ctx context.Context) (bool, error)
	Status() syncer.Status
}

var errUsage = errors.New("usage")

type App struct {
	hooks  *services.Hooks
	sync   Manager
	log    logging.Logger
	userID string
}

// NewApp binds the REPL to userID. An empty userID, or one with no profile
// yet, starts in onboarding mode.
func NewApp(ctx context.Context, hooks *services.Hooks, m Manager, userID string, log logging.Logger) *App {
	a := &App{hooks: hooks, sync: m, log: log.With("module", "cli")}
	if userID == "" {
		return a
	}
	if _, err := hooks.User(ctx, userID); err == nil {
		a.userID = userID
	} else if !errors.Is(err, store.ErrNotFound) {
		a.log.Warn(ctx, "load profile", "user", userID, "error", err)
	}
	return a
}

// Run blocks reading commands from in.
func (a *App) Run(ctx context.Context, in io.Reader) {
	printlnFn("Welcome to MittiMoney (type 'help' for commands)")
	runREPL(ctx, a, a.prompt, bufio.NewScanner(in))
}

func (a *App) hasUser() bool { return a.userID != "" }

func (a *App) prompt() string {
	st := a.sync.Status()
	mode := "offline"
	switch {
	case st.LocalOnly:
		mode = "local"
	case st.Online:
		mode = "online"
	}
	parts := []string{mode}
	if a.userID != "" {
		parts = append([]string{a.userID}, parts...)
	}
	if st.PendingItems > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", st.PendingItems))
	}
	return " (" + strings.Join(parts, " ") + ")"
}

func amountArg(args []string, i int) (decimal.Decimal, error) {
	if len(args) <= i {
		return decimal.Zero, fmt.Errorf("%w: amount is required", errUsage)
	}
	d, err := decimal.NewFromString(args[i])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad amount %q", errUsage, args[i])
	}
	return d, nil
}

func rest(args []string, i int) string {
	if len(args) <= i {
		return ""
	}
	return strings.Join(args[i:], " ")
}

func (a *App) Onboard(ctx context.Context, args []string) error {
	if a.hasUser() {
		return fmt.Errorf("already onboarded as %s", a.userID)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: onboard <phone> [name]", errUsage)
	}
	u, err := a.hooks.Onboard(ctx, services.OnboardInput{PhoneNumber: args[0], Name: rest(args, 1)})
	if err != nil {
		return err
	}
	a.userID = u.ID
	printlnFn("Welcome,", u.Name, "- your id is", u.ID)
	return nil
}

func (a *App) LogTransaction(ctx context.Context, typ finance.TransactionType, args []string) error {
	amount, err := amountArg(args, 0)
	if err != nil {
		return err
	}
	in := finance.TransactionInput{Type: typ, Amount: amount}
	if len(args) > 1 {
		in.Category = args[1]
	}
	if len(args) > 2 {
		in.PaymentMethod = finance.PaymentMethod(args[2])
	}
	tx, err := a.hooks.LogTransaction(ctx, a.userID, in)
	if err != nil {
		return err
	}
	printlnFn("Saved", tx.Type, tx.Amount.StringFixed(2), tx.Category)
	return nil
}

func (a *App) Transactions(ctx context.Context) error {
	txs, err := a.hooks.Transactions(ctx, a.userID)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		printlnFn("No transactions")
	}
	for _, t := range txs {
		printlnFn(fmt.Sprintf("%s  %-7s %10s  %-10s %s  [%s]",
			t.Date.Format("2006-01-02"), t.Type, t.Amount.StringFixed(2), t.Category, t.PaymentMethod, t.SyncStatus))
	}
	return nil
}

func (a *App) AddDebt(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: debt <name> <total> [remaining]", errUsage)
	}
	total, err := amountArg(args, 1)
	if err != nil {
		return err
	}
	in := finance.DebtInput{Name: args[0], TotalAmount: total}
	if len(args) > 2 {
		remaining, err := amountArg(args, 2)
		if err != nil {
			return err
		}
		in.RemainingAmount = &remaining
	}
	d, err := a.hooks.AddDebt(ctx, a.userID, in)
	if err != nil {
		return err
	}
	printlnFn("Added debt", d.ID)
	return nil
}

func (a *App) Repay(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: repay <id> <amount> [note]", errUsage)
	}
	amount, err := amountArg(args, 1)
	if err != nil {
		return err
	}
	d, err := a.hooks.RepayDebt(ctx, args[0], amount, rest(args, 2))
	if err != nil {
		return err
	}
	printlnFn("Remaining", d.RemainingAmount.StringFixed(2), "status", d.Status)
	return nil
}

func (a *App) Debts(ctx context.Context) error {
	debts, err := a.hooks.Debts(ctx, a.userID)
	if err != nil {
		return err
	}
	if len(debts) == 0 {
		printlnFn("No debts")
	}
	for _, d := range debts {
		printlnFn(fmt.Sprintf("%s  %-16s %10s / %-10s %s  [%s]",
			d.ID, d.Name, d.RemainingAmount.StringFixed(2), d.TotalAmount.StringFixed(2), d.Status, d.SyncStatus))
	}
	return nil
}

func (a *App) AddJar(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: jar <name> <target> [goal]", errUsage)
	}
	target, err := amountArg(args, 1)
	if err != nil {
		return err
	}
	j, err := a.hooks.CreateJar(ctx, a.userID, args[0], rest(args, 2), target)
	if err != nil {
		return err
	}
	printlnFn("Created jar", j.ID)
	return nil
}

func (a *App) Deposit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: deposit <id> <amount> [note]", errUsage)
	}
	amount, err := amountArg(args, 1)
	if err != nil {
		return err
	}
	j, err := a.hooks.Deposit(ctx, args[0], amount, rest(args, 2))
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("%s: %s of %s, streak %d", j.Name,
		j.CurrentAmount.StringFixed(2), j.TargetAmount.StringFixed(2), j.Streak.Current))
	return nil
}

func (a *App) PauseJar(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: pause <id>", errUsage)
	}
	_, err := a.hooks.PauseJar(ctx, args[0])
	return err
}

func (a *App) ResumeJar(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: resume <id>", errUsage)
	}
	_, err := a.hooks.ResumeJar(ctx, args[0])
	return err
}

func (a *App) Jars(ctx context.Context) error {
	jars, err := a.hooks.Jars(ctx, a.userID)
	if err != nil {
		return err
	}
	if len(jars) == 0 {
		printlnFn("No savings jars")
	}
	for _, j := range jars {
		printlnFn(fmt.Sprintf("%s  %-16s %10s / %-10s %-9s streak %d  [%s]",
			j.ID, j.Name, j.CurrentAmount.StringFixed(2), j.TargetAmount.StringFixed(2), j.Status, j.Streak.Current, j.SyncStatus))
	}
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	ran, err := a.sync.Sync(ctx)
	if err != nil {
		return err
	}
	if !ran {
		printlnFn("Sync skipped (offline or already running)")
		return nil
	}
	return a.Status(ctx)
}

func (a *App) Status(context.Context) error {
	st := a.sync.Status()
	last := "never"
	if !st.LastSyncTime.IsZero() {
		last = st.LastSyncTime.Local().Format("2006-01-02 15:04:05")
	}
	printlnFn(fmt.Sprintf("online=%t localOnly=%t pending=%d failed=%d synced=%d deadLetters=%d lastSync=%s",
		st.Online, st.LocalOnly, st.PendingItems, st.FailedItems, st.SuccessCount, st.DeadLetters, last))
	return nil
}
