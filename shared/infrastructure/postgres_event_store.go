package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

var _ events.EventStore = (*PostgresEventStore)(nil)

// PostgresEventStore persists the saga event stream per order using
// PostgreSQL, so a run of the simulator can be audited or replayed later.
type PostgresEventStore struct {
	db *sqlx.DB
}

// NewPostgresEventStore creates a new PostgresEventStore
func NewPostgresEventStore(db *sqlx.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// postgresEvent represents event in database
type postgresEvent struct {
	ID            string    `db:"id"`
	OrderID       string    `db:"order_id"`
	Kind          string    `db:"kind"`
	Topic         string    `db:"topic"`
	Data          []byte    `db:"data"`
	Metadata      []byte    `db:"metadata"`
	Timestamp     time.Time `db:"timestamp"`
	StreamVersion int       `db:"stream_version"`
}

// SaveEvents appends events to the order's stream
func (es *PostgresEventStore) SaveEvents(ctx context.Context, orderID models.ID, evts []*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.GetContext(ctx, &currentVersion,
		"SELECT COALESCE(MAX(stream_version), 0) FROM event_stream WHERE order_id = $1",
		orderID.String())
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to get current version")
	}

	for i, event := range evts {
		pgEvent, err := es.toPostgres(event, orderID, currentVersion+i+1)
		if err != nil {
			return errors.Wrap(err, "failed to convert event")
		}

		query := `
			INSERT INTO event_stream (
				id, order_id, kind, topic, data, metadata,
				timestamp, stream_version
			) VALUES (
				:id, :order_id, :kind, :topic, :data, :metadata,
				:timestamp, :stream_version
			)`

		_, err = tx.NamedExecContext(ctx, query, pgEvent)
		if err != nil {
			return errors.Wrap(err, "failed to insert event")
		}
	}

	return tx.Commit()
}

// GetEvents retrieves all events for an order in stream order
func (es *PostgresEventStore) GetEvents(ctx context.Context, orderID models.ID) ([]*events.Event, error) {
	query := `
		SELECT id, order_id, kind, topic, data, metadata,
			   timestamp, stream_version
		FROM event_stream
		WHERE order_id = $1
		ORDER BY stream_version ASC`

	var pgEvents []postgresEvent
	err := es.db.SelectContext(ctx, &pgEvents, query, orderID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}

	return es.toDomainSlice(pgEvents)
}

// GetEventsByKind retrieves events of one kind with pagination
func (es *PostgresEventStore) GetEventsByKind(ctx context.Context, kind events.Kind, offset, limit int) ([]*events.Event, error) {
	query := `
		SELECT id, order_id, kind, topic, data, metadata,
			   timestamp, stream_version
		FROM event_stream
		WHERE kind = $1
		ORDER BY timestamp ASC
		LIMIT $2 OFFSET $3`

	var pgEvents []postgresEvent
	err := es.db.SelectContext(ctx, &pgEvents, query, kind.String(), limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get events by kind")
	}

	return es.toDomainSlice(pgEvents)
}

func (es *PostgresEventStore) toPostgres(event *events.Event, orderID models.ID, streamVersion int) (*postgresEvent, error) {
	data, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	return &postgresEvent{
		ID:            event.ID.String(),
		OrderID:       orderID.String(),
		Kind:          event.Kind.String(),
		Topic:         string(event.Topic),
		Data:          data,
		Metadata:      metadata,
		Timestamp:     event.Timestamp,
		StreamVersion: streamVersion,
	}, nil
}

func (es *PostgresEventStore) toDomainSlice(pgEvents []postgresEvent) ([]*events.Event, error) {
	result := make([]*events.Event, len(pgEvents))
	for i := range pgEvents {
		event, err := es.toDomain(&pgEvents[i])
		if err != nil {
			return nil, err
		}
		result[i] = event
	}
	return result, nil
}

func (es *PostgresEventStore) toDomain(pgEvent *postgresEvent) (*events.Event, error) {
	id, err := models.NewID(pgEvent.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid event ID")
	}

	metadata := make(events.Metadata)
	if len(pgEvent.Metadata) > 0 {
		if err := json.Unmarshal(pgEvent.Metadata, &metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal event metadata")
		}
	}

	return &events.Event{
		ID:        id,
		Kind:      events.Kind(pgEvent.Kind),
		Topic:     events.Topic(pgEvent.Topic),
		Data:      json.RawMessage(pgEvent.Data),
		Metadata:  metadata,
		Timestamp: pgEvent.Timestamp,
	}, nil
}
