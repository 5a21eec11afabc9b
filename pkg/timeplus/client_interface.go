package timeplus

import (
	"context"
)

// TimeplusClient is the interface the journal uses to talk to Timeplus.
// Kept narrow so tests can substitute a mock.
type TimeplusClient interface {
	StreamExists(ctx context.Context, name string) (bool, error)
	CreateStream(ctx context.Context, name string, schema []Column) error
	InsertIntoStream(ctx context.Context, streamName string, columns []string, values []interface{}) error
	Close() error
}
