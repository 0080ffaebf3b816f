package execution

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Enqueuer inserts generate_media tasks. Insertion happens after the
// debit+create transaction commits, so a queue outage is observable at
// submission time and the caller can refund synchronously.
type Enqueuer struct {
	client      *river.Client[pgx.Tx]
	maxAttempts int
}

func NewEnqueuer(client *river.Client[pgx.Tx], maxAttempts int) *Enqueuer {
	return &Enqueuer{client: client, maxAttempts: maxAttempts}
}

func (e *Enqueuer) EnqueueGenerate(ctx context.Context, creationID uuid.UUID) error {
	_, err := e.client.Insert(ctx, GenerateArgs{CreationID: creationID}, &river.InsertOpts{
		MaxAttempts: e.maxAttempts,
	})
	return err
}
