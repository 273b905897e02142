package domain

import (
	"fmt"
	"strings"
)

// Environment names a deployment target class.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentQA          Environment = "qa"
	EnvironmentProduction  Environment = "production"
)

// ParseEnvironment accepts the canonical names plus the usual short aliases.
func ParseEnvironment(value string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(EnvironmentDevelopment), "dev":
		return EnvironmentDevelopment, nil
	case string(EnvironmentQA):
		return EnvironmentQA, nil
	case string(EnvironmentProduction), "prod":
		return EnvironmentProduction, nil
	default:
		return "", fmt.Errorf("%w: unknown environment %q", ErrInvalidArgument, value)
	}
}

// DeployStatus is the lifecycle status of a deployment record.
type DeployStatus string

const (
	DeployStatusPending    DeployStatus = "pending"
	DeployStatusInProgress DeployStatus = "in_progress"
	DeployStatusSuccess    DeployStatus = "success"
	DeployStatusFailed     DeployStatus = "failed"
	DeployStatusCancelled  DeployStatus = "cancelled"
)

// NormalizeDeployStatus maps stored status values to canonical statuses.
func NormalizeDeployStatus(value string) DeployStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DeployStatusPending):
		return DeployStatusPending
	case string(DeployStatusInProgress), "running":
		return DeployStatusInProgress
	case string(DeployStatusSuccess):
		return DeployStatusSuccess
	case string(DeployStatusFailed):
		return DeployStatusFailed
	case string(DeployStatusCancelled), "canceled":
		return DeployStatusCancelled
	default:
		return ""
	}
}

func (s DeployStatus) Terminal() bool {
	switch s {
	case DeployStatusSuccess, DeployStatusFailed, DeployStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionDeployStatus enforces pending -> in_progress -> terminal.
// Terminal statuses never change, not even to another terminal status.
func CanTransitionDeployStatus(current, next DeployStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current.Terminal() {
		return false
	}
	if current == next {
		return true
	}
	return deployStatusOrder(next) == deployStatusOrder(current)+1
}

func deployStatusOrder(status DeployStatus) int {
	switch status {
	case DeployStatusPending:
		return 1
	case DeployStatusInProgress:
		return 2
	case DeployStatusSuccess, DeployStatusFailed, DeployStatusCancelled:
		return 3
	default:
		return 0
	}
}
