package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/animus-labs/animus-deploy/internal/orchestrator"
)

var errNotInteractive = errors.New("approval needs an interactive terminal; pass --auto-approve")

// promptApprover asks on the terminal. It refuses to guess when stdin is not
// a terminal.
type promptApprover struct {
	in          io.Reader
	out         io.Writer
	interactive func() bool
}

func newPromptApprover(in io.Reader, out io.Writer) *promptApprover {
	return &promptApprover{in: in, out: out, interactive: func() bool {
		f, ok := in.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}}
}

func (p *promptApprover) Approve(ctx context.Context, req orchestrator.ApprovalRequest) (bool, error) {
	if !p.interactive() {
		return false, errNotInteractive
	}
	fmt.Fprintf(p.out, "Approve %s (deployment %s, workspace %s)? [y/N]: ", req.Reason, req.DeploymentID, req.Workspace)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.in).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
