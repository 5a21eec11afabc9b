package timeplus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"

	"github.com/neuroca/alert-router/pkg/config"
)

// Column represents a column definition
type Column struct {
	Name     string
	Type     string
	Nullable bool // Whether the column can be NULL
}

// Client is a wrapper around the Timeplus Proton Go driver connection
type Client struct {
	conn      driver.Conn
	workspace string
}

// NewClient creates a new Timeplus client for the audit journal
func NewClient(cfg *config.JournalConfig) (*Client, error) {
	logrus.Infof("Connecting to Timeplus at %s (workspace: %s)", cfg.Address, cfg.Workspace)

	address := cfg.Address
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimPrefix(address, "https://")

	host := address
	port := "8464" // Default native port
	if strings.Contains(address, ":") {
		parts := strings.Split(address, ":")
		host = parts[0]
		port = parts[1]
	}
	connectionAddr := host + ":" + port

	opts := &proton.Options{
		Addr: []string{connectionAddr},
		Auth: proton.Auth{
			Database: cfg.Workspace,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     time.Second * 10,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	}

	conn, err := proton.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to Timeplus: %w", err)
	}

	// Test connection with retries
	var pingErr error
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = conn.Ping(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		logrus.Warnf("Failed to ping Timeplus (attempt %d/5): %v", i+1, pingErr)
		time.Sleep(2 * time.Second)
	}
	if pingErr != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping Timeplus after multiple attempts: %w", pingErr)
	}

	logrus.Info("Successfully connected to Timeplus")

	return &Client{
		conn:      conn,
		workspace: cfg.Workspace,
	}, nil
}

// StreamExists checks whether a stream with the given name exists
func (c *Client) StreamExists(ctx context.Context, name string) (bool, error) {
	rows, err := c.conn.Query(ctx, "SHOW STREAMS")
	if err != nil {
		return false, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var streamName string
		if err := rows.Scan(&streamName); err != nil {
			return false, fmt.Errorf("failed to scan stream name: %w", err)
		}
		if streamName == name {
			return true, nil
		}
	}
	return false, rows.Err()
}

// CreateStream creates a new stream with the given name and schema
func (c *Client) CreateStream(ctx context.Context, name string, schema []Column) error {
	schemaStr := ""
	if len(schema) > 0 {
		schemaFields := make([]string, len(schema))
		for i, col := range schema {
			if col.Nullable {
				schemaFields[i] = fmt.Sprintf("`%s` %s NULL", col.Name, col.Type)
			} else {
				schemaFields[i] = fmt.Sprintf("`%s` %s", col.Name, col.Type)
			}
		}
		schemaStr = "(" + strings.Join(schemaFields, ", ") + ")"
	}

	query := fmt.Sprintf("CREATE STREAM IF NOT EXISTS `%s` %s", name, schemaStr)
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", name, err)
	}
	return nil
}

// InsertIntoStream appends one row to a stream
func (c *Client) InsertIntoStream(ctx context.Context, streamName string, columns []string, values []interface{}) error {
	if len(columns) != len(values) {
		return fmt.Errorf("column/value count mismatch for stream %s", streamName)
	}

	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		streamName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if err := c.conn.Exec(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into stream '%s': %w", streamName, err)
	}
	return nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}
