// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record already exists")
)

// DefaultEvaluationLimit caps ListEvaluationsByEntity when no limit is given.
const DefaultEvaluationLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != ":memory:" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `id, name, description, category, condition_json, risk_score, priority,
	is_active, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var condition string
	var active int

	if err := s.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Category, &condition,
		&rule.RiskScore, &rule.Priority, &active, &rule.Version,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Condition = json.RawMessage(condition)
	rule.IsActive = active == 1
	return &rule, nil
}

func validateRule(rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if !rule.Category.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidInput, domain.ErrUnknownCategory, rule.Category)
	}
	if rule.RiskScore < domain.MinRiskScore || rule.RiskScore > domain.MaxRiskScore {
		return fmt.Errorf("%w: risk score must be within [%d,%d]", ErrInvalidInput, domain.MinRiskScore, domain.MaxRiskScore)
	}
	if len(rule.Condition) == 0 {
		return fmt.Errorf("%w: condition is required", ErrInvalidInput)
	}
	return nil
}

// CreateRule inserts a new rule at version 1. The condition must already be
// validated; ids are never reused, even after deletion.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	var exists int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(1) FROM rules WHERE id = ?`), rule.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: rule %s", ErrConflict, rule.ID)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.Version = 1

	query := `
		INSERT INTO rules (
			id, name, description, category, condition_json, risk_score, priority,
			is_active, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.Category), string(rule.Condition),
		rule.RiskScore, rule.Priority, boolToInt(rule.IsActive), rule.Version,
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// UpdateRule replaces the editable fields of a rule and bumps its version.
// On success rule carries the stored version and timestamps.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	query := `
		UPDATE rules
		SET name = ?, description = ?, category = ?, condition_json = ?, risk_score = ?,
			priority = ?, is_active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(rule.Category), string(rule.Condition), rule.RiskScore,
		rule.Priority, boolToInt(rule.IsActive), time.Now().UTC(),
		rule.ID,
	)
	if err := affectedOne(result, err); err != nil {
		return err
	}

	stored, err := r.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	*rule = *stored
	return nil
}

// SetRuleActive toggles a rule and returns the stored record.
func (r *SQLRepository) SetRuleActive(ctx context.Context, ruleID string, active bool) (*domain.Rule, error) {
	query := `
		UPDATE rules
		SET is_active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), boolToInt(active), time.Now().UTC(), ruleID)
	if err := affectedOne(result, err); err != nil {
		return nil, err
	}
	return r.GetRule(ctx, ruleID)
}

// DeleteRule soft-deletes a rule. Deleted rules are never returned.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	query := `
		UPDATE rules
		SET is_active = 0, deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.rebind(query), now, now, ruleID)
	return affectedOne(result, err)
}

// GetRule retrieves a non-deleted rule by id.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ? AND deleted_at IS NULL`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns non-deleted rules ordered by priority, creation time and id.
func (r *SQLRepository) ListRules(ctx context.Context, filter domain.RuleFilter) ([]*domain.Rule, error) {
	var where []string
	var args []any

	where = append(where, "deleted_at IS NULL")
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY priority, created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := json.Marshal(eval.Result)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation result: %w", err)
	}
	metadata, err := json.Marshal(eval.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation metadata: %w", err)
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, entity_id, category, status, score, timestamp, result, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.EntityID, string(eval.Category), eval.Status, eval.Score, eval.Timestamp,
		string(result), string(metadata),
	)
	return err
}

const evaluationColumns = `id, tenant_id, entity_id, category, status, score, timestamp, result, metadata`

func scanEvaluation(s scanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var result, metadata string

	if err := s.Scan(
		&eval.ID, &eval.TenantID, &eval.EntityID, &eval.Category, &eval.Status, &eval.Score, &eval.Timestamp,
		&result, &metadata,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(result), &eval.Result); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation %s: %w", eval.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &eval.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation metadata %s: %w", eval.ID, err)
	}
	return &eval, nil
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE tenant_id = ? AND id = ?`

	eval, err := scanEvaluation(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eval, nil
}

// ListEvaluationsByEntity returns the most recent evaluations of an entity.
func (r *SQLRepository) ListEvaluationsByEntity(ctx context.Context, tenantID string, entityID string, limit int) ([]*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: entityID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultEvaluationLimit
	}

	query := `SELECT ` + evaluationColumns + `
		FROM evaluations
		WHERE tenant_id = ? AND entity_id = ?
		ORDER BY timestamp DESC, id
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}

	return evals, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func affectedOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
