package orchestrator

import (
	"context"

	"github.com/animus-labs/animus-deploy/internal/domain"
)

// ApprovalRequest describes what the approver is asked to allow.
type ApprovalRequest struct {
	DeploymentID string
	Environment  domain.Environment
	Version      string
	Workspace    string
	Reason       string
}

// Approver confirms a production release or a policy override.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// DenyApprover declines everything. It is the default when no interactive
// approver is wired.
type DenyApprover struct{}

func (DenyApprover) Approve(context.Context, ApprovalRequest) (bool, error) {
	return false, nil
}

type AllowApprover struct{}

func (AllowApprover) Approve(context.Context, ApprovalRequest) (bool, error) {
	return true, nil
}
