package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/ledger"
)

// DeploymentStore is a ledger.Store over the deployments table.
type DeploymentStore struct {
	db DB
}

var _ ledger.Store = (*DeploymentStore)(nil)

const (
	deploymentColumns = `deployment_id, environment, status, version, workspace, account, start_time, end_time, logs, error, error_kind, rollback_version`

	insertDeploymentQuery = `INSERT INTO deployments (
		deployment_id,
		environment,
		status,
		version,
		workspace,
		account,
		start_time,
		end_time,
		logs,
		error,
		error_kind,
		rollback_version
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	selectDeploymentQuery = `SELECT ` + deploymentColumns + `
	 FROM deployments
	 WHERE deployment_id = $1`

	// The status and log count guards reject concurrent writers that read an
	// older version of the row.
	updateDeploymentQuery = `UPDATE deployments SET
		status = $2,
		version = $3,
		end_time = $4,
		logs = $5,
		error = $6,
		error_kind = $7,
		rollback_version = $8
	 WHERE deployment_id = $1 AND status = $9 AND jsonb_array_length(logs) = $10`

	listDeploymentsQuery = `SELECT ` + deploymentColumns + `
	 FROM deployments
	 WHERE ($1 = '' OR environment = $1)
	 ORDER BY start_time DESC, deployment_id DESC
	 LIMIT $2`
)

func NewDeploymentStore(db DB) *DeploymentStore {
	if db == nil {
		return nil
	}
	return &DeploymentStore{db: db}
}

func (s *DeploymentStore) Create(ctx context.Context, record domain.DeploymentRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("deployment store not initialized")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: deployment id is required", domain.ErrInvalidArgument)
	}
	logs, err := encodeLogs(record.Logs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		insertDeploymentQuery,
		record.ID,
		string(record.Environment),
		string(record.Status),
		nullIfEmpty(record.Version),
		record.Workspace,
		record.Account,
		record.StartTime.UTC(),
		endTime(record),
		logs,
		nullIfEmpty(record.Error),
		nullIfEmpty(string(record.ErrorKind)),
		nullIfEmpty(record.RollbackVersion),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: deployment %s", domain.ErrAlreadyExists, record.ID)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *DeploymentStore) Get(ctx context.Context, id string) (domain.DeploymentRecord, error) {
	if s == nil || s.db == nil {
		return domain.DeploymentRecord{}, fmt.Errorf("deployment store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectDeploymentQuery, id)
	record, err := scanDeployment(row)
	if err != nil {
		return domain.DeploymentRecord{}, handleNotFound(err, id)
	}
	return record, nil
}

func (s *DeploymentStore) Update(ctx context.Context, record domain.DeploymentRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("deployment store not initialized")
	}
	prev, err := s.Get(ctx, record.ID)
	if err != nil {
		return err
	}
	if err := ledger.CheckUpdate(prev, record); err != nil {
		return err
	}
	logs, err := encodeLogs(record.Logs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		updateDeploymentQuery,
		record.ID,
		string(record.Status),
		nullIfEmpty(record.Version),
		endTime(record),
		logs,
		nullIfEmpty(record.Error),
		nullIfEmpty(string(record.ErrorKind)),
		nullIfEmpty(record.RollbackVersion),
		string(prev.Status),
		len(prev.Logs),
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: deployment %s changed concurrently", domain.ErrInvalidTransition, record.ID)
	}
	return nil
}

func (s *DeploymentStore) List(ctx context.Context, filter ledger.Filter) ([]domain.DeploymentRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("deployment store not initialized")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, listDeploymentsQuery, string(filter.Environment), limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DeploymentRecord, 0)
	for rows.Next() {
		record, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return out, nil
}

const maxListLimit = 1000

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (domain.DeploymentRecord, error) {
	var (
		record          domain.DeploymentRecord
		environment     string
		status          string
		version         sql.NullString
		end             sql.NullTime
		logs            []byte
		errMsg          sql.NullString
		errKind         sql.NullString
		rollbackVersion sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&environment,
		&status,
		&version,
		&record.Workspace,
		&record.Account,
		&record.StartTime,
		&end,
		&logs,
		&errMsg,
		&errKind,
		&rollbackVersion,
	); err != nil {
		return domain.DeploymentRecord{}, err
	}
	record.Environment = domain.Environment(environment)
	record.Status = domain.NormalizeDeployStatus(status)
	record.Version = version.String
	record.StartTime = record.StartTime.UTC()
	if end.Valid {
		t := end.Time.UTC()
		record.EndTime = &t
	}
	decoded, err := decodeLogs(logs)
	if err != nil {
		return domain.DeploymentRecord{}, err
	}
	record.Logs = decoded
	record.Error = errMsg.String
	record.ErrorKind = domain.Kind(errKind.String)
	record.RollbackVersion = rollbackVersion.String
	return record, nil
}

func endTime(record domain.DeploymentRecord) sql.NullTime {
	if record.EndTime == nil || record.EndTime.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: record.EndTime.UTC(), Valid: true}
}

func encodeLogs(logs []domain.LogEntry) ([]byte, error) {
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	out, err := json.Marshal(logs)
	if err != nil {
		return nil, fmt.Errorf("encode logs: %w", err)
	}
	return out, nil
}

func decodeLogs(raw []byte) ([]domain.LogEntry, error) {
	if len(raw) == 0 {
		return []domain.LogEntry{}, nil
	}
	var out []domain.LogEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	if out == nil {
		out = []domain.LogEntry{}
	}
	return out, nil
}
