package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	user  bool
	calls []string
	fail  error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return f.fail
}

func (f *fakeExec) hasUser() bool { return f.user }
func (f *fakeExec) Onboard(_ context.Context, args []string) error {
	f.user = true
	return f.record("onboard", args)
}
func (f *fakeExec) LogTransaction(_ context.Context, typ finance.TransactionType, args []string) error {
	return f.record(string(typ), args)
}
func (f *fakeExec) Transactions(context.Context) error { return f.record("list", nil) }
func (f *fakeExec) AddDebt(_ context.Context, args []string) error {
	return f.record("debt", args)
}
func (f *fakeExec) Repay(_ context.Context, args []string) error { return f.record("repay", args) }
func (f *fakeExec) Debts(context.Context) error                  { return f.record("debts", nil) }
func (f *fakeExec) AddJar(_ context.Context, args []string) error {
	return f.record("jar", args)
}
func (f *fakeExec) Deposit(_ context.Context, args []string) error {
	return f.record("deposit", args)
}
func (f *fakeExec) PauseJar(_ context.Context, args []string) error {
	return f.record("pause", args)
}
func (f *fakeExec) ResumeJar(_ context.Context, args []string) error {
	return f.record("resume", args)
}
func (f *fakeExec) Jars(context.Context) error   { return f.record("jars", nil) }
func (f *fakeExec) Sync(context.Context) error   { return f.record("sync", nil) }
func (f *fakeExec) Status(context.Context) error { return f.record("status", nil) }

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		out = append(out, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &out
}

func TestRunREPL_Dispatch(t *testing.T) {
	out := captureOutput(t)

	input := strings.Join([]string{
		"expense 10",
		"onboard 98000 Asha",
		"",
		"expense 150 food upi",
		"income 500",
		"l",
		"debt shop 1000",
		"repay d1 100 first",
		"debts",
		"jar fees 300 school",
		"deposit j1 50",
		"pause j1",
		"resume j1",
		"jars",
		"sync",
		"status",
		"foobar",
		"exit",
		"status",
	}, "\n")
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader(input)))

	assert.Equal(t, []string{
		"onboard 98000 Asha",
		"expense 150 food upi",
		"income 500",
		"list",
		"debt shop 1000",
		"repay d1 100 first",
		"debts",
		"jar fees 300 school",
		"deposit j1 50",
		"pause j1",
		"resume j1",
		"jars",
		"sync",
		"status",
	}, exec.calls)

	joined := strings.Join(*out, "\n")
	assert.Contains(t, joined, "No profile yet")
	assert.Contains(t, joined, "Unknown command: foobar")
	assert.Contains(t, joined, "Bye!")
}

func TestRunREPL_HelpAndErrors(t *testing.T) {
	out := captureOutput(t)

	exec := &fakeExec{fail: errors.New("disk full")}
	runREPL(context.Background(), exec, func() string { return " (x)" },
		bufio.NewScanner(strings.NewReader("help\nonboard 1\nhelp\n")))

	assert.Contains(t, *out, "mm (x)> ")
	assert.Contains(t, *out, helpNoUser)
	assert.Contains(t, *out, helpUser)
	assert.Contains(t, *out, "Error: disk full")
}
