package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCanTransitionDeployStatus(t *testing.T) {
	cases := []struct {
		from, to DeployStatus
		want     bool
	}{
		{DeployStatusPending, DeployStatusInProgress, true},
		{DeployStatusInProgress, DeployStatusSuccess, true},
		{DeployStatusInProgress, DeployStatusFailed, true},
		{DeployStatusInProgress, DeployStatusCancelled, true},
		{DeployStatusPending, DeployStatusFailed, false},
		{DeployStatusPending, DeployStatusSuccess, false},
		{DeployStatusPending, DeployStatusCancelled, false},
		{DeployStatusPending, DeployStatusPending, true},
		{DeployStatusInProgress, DeployStatusPending, false},
		{DeployStatusSuccess, DeployStatusFailed, false},
		{DeployStatusFailed, DeployStatusInProgress, false},
		{DeployStatusSuccess, DeployStatusSuccess, false},
		{"", DeployStatusSuccess, false},
	}
	for _, tc := range cases {
		if got := CanTransitionDeployStatus(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s,%s)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransitionSetsEndTimeOnlyWhenTerminal(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := DeploymentRecord{ID: "d-1", Status: DeployStatusPending, StartTime: start}

	if err := rec.Transition(DeployStatusInProgress, start.Add(time.Second)); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if rec.EndTime != nil {
		t.Fatalf("expected no end time while in progress")
	}
	if err := rec.Transition(DeployStatusSuccess, start.Add(time.Minute)); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if rec.EndTime == nil || rec.EndTime.Before(rec.StartTime) {
		t.Fatalf("expected end time >= start time, got %v", rec.EndTime)
	}
	err := rec.Transition(DeployStatusFailed, start.Add(2*time.Minute))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if rec.Status != DeployStatusSuccess {
		t.Fatalf("status changed after rejected transition: %s", rec.Status)
	}
}

func TestTransitionClampsEndTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := DeploymentRecord{Status: DeployStatusInProgress, StartTime: start}
	if err := rec.Transition(DeployStatusFailed, start.Add(-time.Second)); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !rec.EndTime.Equal(start) {
		t.Fatalf("EndTime=%v, want %v", rec.EndTime, start)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	rec := DeploymentRecord{ID: "d-1", StartTime: time.Now()}
	rec.AppendLog(time.Now(), "first")
	clone := rec.Clone()
	clone.AppendLog(time.Now(), "second")
	clone.Logs[0].Message = "changed"
	if len(rec.Logs) != 1 || rec.Logs[0].Message != "first" {
		t.Fatalf("original mutated: %+v", rec.Logs)
	}
}

func TestParseEnvironment(t *testing.T) {
	if env, err := ParseEnvironment("prod"); err != nil || env != EnvironmentProduction {
		t.Fatalf("ParseEnvironment(prod)=%s err=%v", env, err)
	}
	if env, err := ParseEnvironment(" QA "); err != nil || env != EnvironmentQA {
		t.Fatalf("ParseEnvironment(QA)=%s err=%v", env, err)
	}
	if _, err := ParseEnvironment("staging"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestErrorKeepsMessageAndKind(t *testing.T) {
	base := errors.New("Installation failed")
	err := NewError(KindInstallFailed, "install", base)
	if err.Error() != "Installation failed" {
		t.Fatalf("Error()=%q", err.Error())
	}
	if KindOf(err) != KindInstallFailed || StepOf(err) != "install" {
		t.Fatalf("kind=%s step=%s", KindOf(err), StepOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to reach base")
	}

	rewrapped := NewError(KindVerificationFailed, "verify", fmt.Errorf("outer: %w", err))
	if KindOf(rewrapped) != KindInstallFailed {
		t.Fatalf("expected original kind to survive, got %s", KindOf(rewrapped))
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Fatalf("deadline should map to timeout")
	}
	if KindOf(fmt.Errorf("wrap: %w", context.Canceled)) != KindCancelled {
		t.Fatalf("canceled should map to cancelled")
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil should have no kind")
	}
}
