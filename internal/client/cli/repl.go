package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/mittimoney/mittimoney/internal/finance"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. Args are the
// words after the command name.
type execIface interface {
	hasUser() bool
	Onboard(ctx context.Context, args []string) error
	LogTransaction(ctx context.Context, typ finance.TransactionType, args []string) error
	Transactions(ctx context.Context) error
	AddDebt(ctx context.Context, args []string) error
	Repay(ctx context.Context, args []string) error
	Debts(ctx context.Context) error
	AddJar(ctx context.Context, args []string) error
	Deposit(ctx context.Context, args []string) error
	PauseJar(ctx context.Context, args []string) error
	ResumeJar(ctx context.Context, args []string) error
	Jars(ctx context.Context) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
}

const (
	helpNoUser = "Available commands: onboard <phone> [name], status, exit"
	helpUser   = "Available commands: income|expense <amount> [category] [cash|bank|upi], (l)ist, " +
		"debt <name> <total> [remaining], repay <id> <amount> [note], debts, " +
		"jar <name> <target> [goal], deposit <id> <amount> [note], pause <id>, resume <id>, jars, " +
		"sync, status, exit"
)

// runREPL reads commands from scanner until EOF, "exit" or "quit". Handlers
// report their own errors; the loop only prints them.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("mm%s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if !a.hasUser() {
			switch cmd {
			case "help", "onboard", "status", "exit", "quit":
			default:
				printlnFn("No profile yet. Run: onboard <phone> [name]")
				continue
			}
		}

		var err error
		switch cmd {
		case "help":
			if a.hasUser() {
				printlnFn(helpUser)
			} else {
				printlnFn(helpNoUser)
			}
		case "onboard":
			err = a.Onboard(ctx, args)
		case "income":
			err = a.LogTransaction(ctx, finance.TypeIncome, args)
		case "expense":
			err = a.LogTransaction(ctx, finance.TypeExpense, args)
		case "l", "list":
			err = a.Transactions(ctx)
		case "debt":
			err = a.AddDebt(ctx, args)
		case "repay":
			err = a.Repay(ctx, args)
		case "debts":
			err = a.Debts(ctx)
		case "jar":
			err = a.AddJar(ctx, args)
		case "deposit":
			err = a.Deposit(ctx, args)
		case "pause":
			err = a.PauseJar(ctx, args)
		case "resume":
			err = a.ResumeJar(ctx, args)
		case "jars":
			err = a.Jars(ctx)
		case "sync":
			err = a.Sync(ctx)
		case "status":
			err = a.Status(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
