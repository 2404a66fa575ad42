package storage

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// CriterionRow is one per-criterion statistics row of a run
type CriterionRow struct {
	RunID       string              `bigquery:"run_id"`      // REQUIRED
	ExternalID  bigquery.NullString `bigquery:"external_id"` // NULLABLE
	Month       bigquery.NullInt64  `bigquery:"month"`       // NULLABLE
	Year        bigquery.NullInt64  `bigquery:"year"`        // NULLABLE
	Criterion   string              `bigquery:"criterion"`   // REQUIRED
	Book        int64               `bigquery:"book"`
	Bank        int64               `bigquery:"bank"`
	BookPercent *big.Rat            `bigquery:"book_percent"` // NUMERIC
	BankPercent *big.Rat            `bigquery:"bank_percent"` // NUMERIC
	CreatedTS   time.Time           `bigquery:"created_ts"`
}

type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQueryPublisher appends the per-criterion statistics of each run to a table
type BigQueryPublisher struct {
	client   *bigquery.Client
	inserter rowInserter
	now      func() time.Time
	logger   logger.Logger
}

// NewBigQueryPublisher creates a publisher writing to project.dataset.table
func NewBigQueryPublisher(ctx context.Context, project, dataset, table, credentialsFile string, log logger.Logger) (*BigQueryPublisher, error) {
	if project == "" || dataset == "" || table == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "storage.bigquery",
			fmt.Sprintf("%s.%s.%s", project, dataset, table), fmt.Errorf("project, dataset and table are required"))
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "storage.bigquery.project", project, err)
	}

	p := newBigQueryPublisher(client.Dataset(dataset).Table(table).Inserter(), log)
	p.client = client
	return p, nil
}

func newBigQueryPublisher(inserter rowInserter, log logger.Logger) *BigQueryPublisher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &BigQueryPublisher{
		inserter: inserter,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.WithComponent("bigquery"),
	}
}

// Close closes the BigQuery client connection
func (p *BigQueryPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Publish inserts one row per criterion of result
func (p *BigQueryPublisher) Publish(ctx context.Context, result *reconciler.Result) error {
	rows := CriterionRows(result, p.now())
	if len(rows) == 0 {
		return nil
	}

	if err := p.inserter.Put(ctx, rows); err != nil {
		return errors.StorageError(errors.CodePersistFailed, "criterion statistics", err)
	}

	p.logger.WithFields(logger.Fields{
		"run_id": result.RunID,
		"rows":   len(rows),
	}).Info("Criterion statistics published")
	return nil
}

// CriterionRows converts the summary criteria of result to table rows
func CriterionRows(result *reconciler.Result, now time.Time) []*CriterionRow {
	if result == nil || result.Summary == nil {
		return nil
	}

	rows := make([]*CriterionRow, 0, len(result.Summary.Criteria))
	for _, c := range result.Summary.Criteria {
		row := &CriterionRow{
			RunID:       result.RunID,
			Criterion:   string(c.Criterion),
			Book:        int64(c.Book),
			Bank:        int64(c.Bank),
			BookPercent: c.BookPercent.Rat(),
			BankPercent: c.BankPercent.Rat(),
			CreatedTS:   now,
		}
		if req := result.Request; req != nil {
			row.ExternalID = bigquery.NullString{StringVal: req.ExternalID, Valid: req.ExternalID != ""}
			row.Month = bigquery.NullInt64{Int64: int64(req.Month), Valid: req.Month != 0}
			row.Year = bigquery.NullInt64{Int64: int64(req.Year), Valid: req.Year != 0}
		}
		rows = append(rows, row)
	}
	return rows
}
