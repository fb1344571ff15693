package clinicaldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/resilience"
)

const (
	DriverSQLServer = "sqlserver"
	DriverPGX       = "pgx"
)

// Dialect maps a database/sql driver name to its goqu dialect.
func Dialect(driverName string) string {
	if driverName == DriverPGX {
		return "postgres"
	}
	return "sqlserver"
}

type Options struct {
	Driver       string
	DSN          string
	QueryTimeout time.Duration
	MaxOpenConns int
	Executor     *resilience.Executor
}

type opener func(driverName, dsn string) (*sql.DB, error)

// Client executes parameterized queries over one shared, lazily opened
// connection pool. A pool that reported a connection failure is pinged and
// reopened before its next use.
type Client struct {
	opts Options
	open opener

	mu      sync.Mutex
	db      *sql.DB
	suspect bool
}

func New(opts Options) *Client {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	return &Client{opts: opts, open: sql.Open}
}

func (c *Client) Name() string { return "clinical_db" }

func (c *Client) Execute(ctx context.Context, query domain.Query) (*domain.QueryResult, error) {
	op := "clinicaldb " + queryName(query)
	if strings.TrimSpace(query.SQL) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("empty query"))
	}

	db, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, query.SQL, query.Args...)
	if err != nil {
		c.noteFailure(err)
		return nil, domain.WrapError(domain.ErrTransientData, op, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		c.noteFailure(err)
		return nil, domain.WrapError(domain.ErrTransientData, op, err)
	}
	return result, nil
}

func (c *Client) Ping(ctx context.Context) error {
	db, err := c.handle(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		c.noteFailure(err)
		return domain.WrapError(domain.ErrTransientData, "clinicaldb ping", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Client) handle(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil && !c.suspect {
		return c.db, nil
	}
	if c.db != nil {
		if err := c.db.PingContext(ctx); err == nil {
			c.suspect = false
			return c.db, nil
		}
		slog.Warn("clinical_db_reconnect", "driver", c.opts.Driver)
		_ = c.db.Close()
		c.db = nil
	}

	if strings.TrimSpace(c.opts.DSN) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "clinicaldb connect", errors.New("dsn is not configured"))
	}

	var db *sql.DB
	connect := func(ctx context.Context) error {
		opened, err := c.open(c.opts.Driver, c.opts.DSN)
		if err != nil {
			return fmt.Errorf("sql open: %w", err)
		}
		if err := opened.PingContext(ctx); err != nil {
			_ = opened.Close()
			return fmt.Errorf("db ping: %w", err)
		}
		db = opened
		return nil
	}

	var err error
	if c.opts.Executor != nil {
		err = c.opts.Executor.Execute(ctx, "clinicaldb.connect", connect, classifyConnectError)
	} else {
		err = connect(ctx)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrTransientData, "clinicaldb connect", err)
	}

	db.SetMaxOpenConns(c.opts.MaxOpenConns)
	db.SetMaxIdleConns(c.opts.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	c.db = db
	c.suspect = false
	return db, nil
}

func (c *Client) noteFailure(err error) {
	if !isConnectionError(err) {
		return
	}
	c.mu.Lock()
	c.suspect = true
	c.mu.Unlock()
}

func scanRows(rows *sql.Rows) (*domain.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &domain.QueryResult{Columns: columns, Rows: []domain.Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(domain.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func classifyConnectError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func queryName(q domain.Query) string {
	if q.Name == "" {
		return "query"
	}
	return q.Name
}
