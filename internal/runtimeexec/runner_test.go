package runtimeexec

import (
	"context"
	"errors"
	"testing"
)

func TestScriptedLongestPrefix(t *testing.T) {
	s := NewScripted()
	s.On("git status", Result{Stdout: "generic"}, nil)
	s.On("git status --porcelain", Result{Stdout: "porcelain"}, nil)

	res, err := s.Run(context.Background(), Command{Bin: "git", Args: []string{"status", "--porcelain"}})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if res.Stdout != "porcelain" {
		t.Fatalf("Stdout=%q", res.Stdout)
	}
	if got := s.Lines(); len(got) != 1 || got[0] != "git status --porcelain" {
		t.Fatalf("Lines()=%v", got)
	}
}

func TestScriptedMissingBinary(t *testing.T) {
	s := NewScripted()
	s.Missing["platform"] = true
	if err := s.LookPath("platform"); !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("LookPath() err=%v", err)
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Command: "git fetch", ExitCode: 128, Output: "fatal: no remote"}
	if err.Error() != "git fetch exited with code 128: fatal: no remote" {
		t.Fatalf("Error()=%q", err.Error())
	}
}

func TestResultOutputAndFirstLine(t *testing.T) {
	res := Result{Stdout: "\n  v1.2.0\nv1.1.0\n", Stderr: "warning"}
	if FirstLine(res.Stdout) != "v1.2.0" {
		t.Fatalf("FirstLine()=%q", FirstLine(res.Stdout))
	}
	if res.Output() != "v1.2.0\nv1.1.0\nwarning" {
		t.Fatalf("Output()=%q", res.Output())
	}
}

func TestExecRunnerRejectsEmptyBinary(t *testing.T) {
	if _, err := NewExecRunner().Run(context.Background(), Command{}); err == nil {
		t.Fatalf("expected error")
	}
}
