package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"milledger/internal/core/id"
	"milledger/pkg/logger"
)

// outboxRows replays a fixed message set through the pgx.Rows interface.
type outboxRows struct {
	msgs []OutboxMessage
	idx  int
}

func (r *outboxRows) Close()                                       {}
func (r *outboxRows) Err() error                                   { return nil }
func (r *outboxRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *outboxRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *outboxRows) Values() ([]any, error)                       { return nil, nil }
func (r *outboxRows) RawValues() [][]byte                          { return nil }
func (r *outboxRows) Conn() *pgx.Conn                              { return nil }

func (r *outboxRows) Next() bool {
	r.idx++
	return r.idx <= len(r.msgs)
}

func (r *outboxRows) Scan(dest ...any) error {
	m := r.msgs[r.idx-1]
	*(dest[0].(*id.ID)) = m.ID
	*(dest[1].(*string)) = m.AggregateType
	*(dest[2].(*id.ID)) = m.AggregateID
	*(dest[3].(*string)) = m.EventType
	*(dest[4].(*[]byte)) = m.Payload
	*(dest[5].(*OutboxStatus)) = m.Status
	*(dest[6].(*int)) = m.RetryCount
	*(dest[7].(**string)) = m.LastError
	*(dest[8].(**time.Time)) = m.NextRetryAt
	*(dest[9].(*time.Time)) = m.CreatedAt
	*(dest[10].(**time.Time)) = m.PublishedAt
	return nil
}

type relayQuerier struct {
	rows    *outboxRows
	execSQL []string
}

func (q *relayQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.execSQL = append(q.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (q *relayQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return q.rows, nil
}

func (q *relayQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

type selectiveHandler struct {
	failType string
}

func (h *selectiveHandler) Handle(_ context.Context, msg *OutboxMessage) error {
	if msg.EventType == h.failType {
		return errors.New("projection exploded")
	}
	return nil
}

func TestProcessBatch_LogsFailedMessage(t *testing.T) {
	failing := OutboxMessage{
		ID: id.New(), AggregateType: "Movement", AggregateID: id.New(),
		EventType: "Broken", Status: OutboxStatusPending,
	}
	healthy := OutboxMessage{
		ID: id.New(), AggregateType: "Movement", AggregateID: id.New(),
		EventType: EventTypeMovementAdmitted, Status: OutboxStatusPending,
	}
	q := &relayQuerier{rows: &outboxRows{msgs: []OutboxMessage{failing, healthy}}}
	relay := &OutboxRelay{db: q, batchSize: 10, handler: &selectiveHandler{failType: "Broken"}}

	core, observed := observer.New(zapcore.DebugLevel)
	ctx := logger.WithLogger(context.Background(),
		&logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	processed, err := relay.ProcessBatch(ctx)
	require.NoError(t, err, "one bad message must not fail the batch")
	assert.Equal(t, 1, processed)

	warns := observed.FilterMessage("outbox message processing failed").All()
	require.Len(t, warns, 1, "handler failures must be logged")
	fields := warns[0].ContextMap()
	assert.Equal(t, failing.ID, fields["message_id"])
	assert.Contains(t, fmt.Sprint(fields["error"]), "projection exploded")

	// Failing message got a retry update, healthy one was marked published.
	require.Len(t, q.execSQL, 2)
	assert.Contains(t, q.execSQL[0], "retry_count")
	assert.Contains(t, q.execSQL[1], "published_at")
	assert.False(t, strings.Contains(q.execSQL[0], "published_at"))
}
