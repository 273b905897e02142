package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// errUsage marks errors that should print usage and exit with exitConfig.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *cliEnv, args []string) error
}

// cliEnv carries the process streams into commands.
type cliEnv struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func commands() []command {
	return []command{
		{name: "deploy:qa", summary: "release a QA build into the QA workspace", run: runDeployQA},
		{name: "deploy:prod", summary: "release a stable build through the verification workspace", run: runDeployProd},
		{name: "rollback", summary: "reinstall a previously registered version", run: runRollback},
		{name: "markers", summary: "list rollback backup markers", run: runMarkers},
		{name: "status", summary: "show one deployment record", run: runStatus},
		{name: "history", summary: "list recent deployments", run: runHistory},
		{name: "serve", summary: "serve the read-only status API", run: runServe},
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	env := &cliEnv{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		printUsage(stderr)
		return exitConfig
	}
	name := args[0]
	switch name {
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	}
	for _, cmd := range commands() {
		if cmd.name != name {
			continue
		}
		err := cmd.run(ctx, env, args[1:])
		switch {
		case err == nil:
			return exitOK
		case errors.Is(err, flag.ErrHelp):
			return exitOK
		case errors.Is(err, errUsage), errors.Is(err, errConfig):
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitConfig
		default:
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitFailed
		}
	}
	fmt.Fprintf(stderr, "unknown command: %s\n", name)
	printUsage(stderr)
	return exitConfig
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: deployctl <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-12s %s\n", cmd.name, cmd.summary)
	}
}
