package rundao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/gox/slicex"
)

const latest = "latest"

// TableName derives the preview runs table name from the deployer environment
func TableName(env string) string {
	return fmt.Sprintf("%s-preview-runs", env)
}

// PK represents a DynamoDB partition key in format {repo}/{env}
// Example: myrepo/dev
type PK string

// NewPK creates a new partition key from repo and env
func NewPK(repo, env string) PK {
	return PK(fmt.Sprintf("%s/%s", repo, env))
}

// ParsePK parses a partition key into its repo and env components
func ParsePK(pk PK) (repo, env string, err error) {
	s := string(pk)
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {repo}/{env}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation of the partition key
func (pk PK) String() string {
	return string(pk)
}

// ID represents a run ID in format {repo}/{env}:{ksuid}
// Example: myrepo/dev:2HFj3kLmNoPqRsTuVwXy
type ID string

func (id ID) String() string {
	return string(id)
}

// ParseID parses a run ID into its partition key (pk) and sort key (sk) components
func ParseID(id ID) (pk PK, sk string, err error) {
	s := string(id)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid run ID format: %s, expected {repo}/{env}:{ksuid}", s)
	}
	return PK(parts[0]), parts[1], nil
}

// NewID constructs an ID from partition key and sort key
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// RunStatus represents the current status of a preview run
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailed     RunStatus = "FAILED"
)

// Record represents a preview run record in DynamoDB
type Record struct {
	PK          PK        `ddb:"hash" dynamodbav:"pk"`  // {repo}/{env} - DynamoDB partition key
	SK          string    `ddb:"range" dynamodbav:"sk"` // KSUID - DynamoDB sort key
	ID          ID        `dynamodbav:"id,omitempty"`   // ID is only used for latest entries
	Repo        string    `dynamodbav:"repo,omitempty"`
	Env         string    `dynamodbav:"env,omitempty"`
	PR          int       `dynamodbav:"pr,omitempty"` // Pull request number
	Branch      string    `dynamodbav:"branch,omitempty"`
	Commit      string    `dynamodbav:"commit,omitempty"`
	ImageTag    string    `dynamodbav:"image_tag,omitempty"`
	Status      RunStatus `dynamodbav:"status,omitempty"`
	TunnelURL   *string   `dynamodbav:"tunnel_url,omitempty"`   // Quick tunnel URL once established
	SuiteRunID  *string   `dynamodbav:"suite_run_id,omitempty"` // Keystone suite run ID once triggered
	FailedTests *int      `dynamodbav:"failed_tests,omitempty"`
	ErrorMsg    *string   `dynamodbav:"error_msg,omitempty"`
	CreatedAt   int64     `dynamodbav:"created_at,omitempty"`            // Unix epoch timestamp of creation
	FinishedAt  *int64    `dynamodbav:"finished_at,omitempty"` // Unix epoch timestamp of completion
	UpdatedAt   int64     `dynamodbav:"updated_at,omitempty"`            // Unix epoch timestamp of last update
}

// GetID returns the full run ID in format: {repo}/{env}:{ksuid}
func (r *Record) GetID() ID {
	if r.ID != "" {
		return r.ID
	}
	return NewID(r.PK, r.SK)
}

// CreateInput contains the fields needed to create a new run record
type CreateInput struct {
	Repo     string // Repository name
	Env      string // Environment (dev, stg, prd)
	SK       string // KSUID sort key
	PR       int    // Pull request number
	Branch   string // Git branch
	Commit   string // Git commit hash
	ImageTag string // Image tag built for this run
}

// UpdateInput contains the fields that can be updated on a run record
type UpdateInput struct {
	PK          PK         // Partition key (repo/env)
	SK          string     // Sort key (KSUID)
	Status      *RunStatus // New status
	TunnelURL   *string    // Quick tunnel URL (optional)
	SuiteRunID  *string    // Keystone suite run ID (optional)
	FailedTests *int       // Failed test count (optional)
	ErrorMsg    *string    // Error message (optional)
}

// DAO provides data access operations for preview run records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create creates a new run record with initial status PENDING
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	pk := NewPK(input.Repo, input.Env)
	now := time.Now().Unix()

	record := Record{
		PK:        pk,
		SK:        input.SK,
		Repo:      input.Repo,
		Env:       input.Env,
		PR:        input.PR,
		Branch:    input.Branch,
		Commit:    input.Commit,
		ImageTag:  input.ImageTag,
		Status:    RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := d.table.Put(&record).RunWithContext(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return record, nil
}

// Find retrieves a run record by ID
// Returns an error if not found or if there's a database error
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record

	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("run record not found: %s", id)
		}
		return Record{}, fmt.Errorf("failed to find run record: %w", err)
	}

	// If all fields are empty, item doesn't exist
	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("run record not found: %s", id)
	}

	return record, nil
}

// Delete removes a run record by ID
func (d *DAO) Delete(ctx context.Context, id ID) error {
	pk, sk, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(pk).
		Range(sk).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}

	return nil
}

// Update updates a run record and creates/updates a "latest" magic record
// The latest record has pk=latest/{env} and sk={original pk} to enable efficient
// queries for the most recent preview of each repo
func (d *DAO) Update(ctx context.Context, input UpdateInput) error {
	if input.Status == nil {
		return fmt.Errorf("status is required")
	}

	now := time.Now().Unix()

	update := d.table.Update(input.PK).
		Range(input.SK).
		Set("#Status = ?", string(*input.Status)).
		Set("#UpdatedAt = ?", now)

	// Set finishedAt for terminal states (SUCCESS or FAILED)
	if *input.Status == RunStatusSuccess || *input.Status == RunStatusFailed {
		update = update.Set("#FinishedAt = ?", now)
	}

	if input.TunnelURL != nil {
		update = update.Set("#TunnelURL = ?", *input.TunnelURL)
	}
	if input.SuiteRunID != nil {
		update = update.Set("#SuiteRunID = ?", *input.SuiteRunID)
	}
	if input.FailedTests != nil {
		update = update.Set("#FailedTests = ?", *input.FailedTests)
	}
	if input.ErrorMsg != nil {
		update = update.Set("#ErrorMsg = ?", *input.ErrorMsg)
	}

	repo, env, err := ParsePK(input.PK)
	if err != nil {
		return fmt.Errorf("failed to parse PK: %w", err)
	}

	latestRecord := &Record{
		PK:        NewPK(latest, env),
		SK:        input.PK.String(), // SK in latest record = PK from original (repo/env identifier)
		ID:        NewID(input.PK, input.SK),
		Repo:      repo,
		Env:       env,
		Status:    *input.Status,
		UpdatedAt: now,
	}

	// Write both the update and the latest record in a transaction
	put := d.table.Put(latestRecord)

	if _, err := d.db.TransactWriteItemsWithContext(ctx, update, put); err != nil {
		return fmt.Errorf("failed to update run record: %w", err)
	}

	return nil
}

// Query returns all runs for a given repo/env partition key
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	return records, nil
}

// QueryByRepoEnv returns all runs for a given repository and environment
func (d *DAO) QueryByRepoEnv(ctx context.Context, repo, env string) ([]Record, error) {
	pk := NewPK(repo, env)
	return d.Query(ctx, pk)
}

// QueryLatestRuns returns the latest preview run for each repo in the given
// environment, via the "latest" magic records (pk=latest/{env}, sk={repo}/{env})
func (d *DAO) QueryLatestRuns(ctx context.Context, env string) ([]Record, error) {
	pk := NewPK(latest, env)
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}

	// Sort by UpdatedAt descending (most recent first)
	for i := 0; i < len(records)-1; i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].UpdatedAt > records[i].UpdatedAt {
				records[i], records[j] = records[j], records[i]
			}
		}
	}

	ids := slicex.Map(records, GetID)

	// Load full run records for each ID
	runs := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := d.Find(ctx, id)
		if err != nil {
			// Skip records that are not found (may have been deleted)
			continue
		}
		runs = append(runs, record)
	}

	return runs, nil
}

// GetID is a free-function adapter for slicex.Map
func GetID(r Record) ID {
	return r.GetID()
}
