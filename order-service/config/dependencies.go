package config

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/ordersaga/fulfillment-system/inventory-service"
	"github.com/ordersaga/fulfillment-system/notification-service"
	"github.com/ordersaga/fulfillment-system/order-service/choreography"
	"github.com/ordersaga/fulfillment-system/order-service/handlers"
	"github.com/ordersaga/fulfillment-system/order-service/orchestrator"
	"github.com/ordersaga/fulfillment-system/payment-service"
	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/events"
	sharedinfra "github.com/ordersaga/fulfillment-system/shared/infrastructure"
	"github.com/ordersaga/fulfillment-system/shared/telemetry"
	"github.com/ordersaga/fulfillment-system/shipping-service"
)

// Dependencies wires the whole simulation: one bus, the four domain
// services, both saga topologies and the optional external infrastructure.
type Dependencies struct {
	Bus *bus.Bus

	Inventory    *inventory.Service
	Payment      *payment.Service
	Shipping     *shipping.Service
	Notification *notification.Service

	Orchestrator *orchestrator.Orchestrator
	Coordinator  *choreography.Coordinator

	OrderHandlers *handlers.OrderHandlers

	Telemetry         *telemetry.Telemetry
	telemetryShutdown func()

	DB              *sqlx.DB
	EventStore      *sharedinfra.PostgresEventStore
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter
}

// BuildDependencies constructs the object graph from configuration. The
// database, SNS mirroring and SQS bridge are each optional: the simulation is
// complete without them, they only make a run observable or drivable from
// outside the process.
func BuildDependencies(ctx context.Context, cfg *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	if cfg.Telemetry.Enabled {
		tel, shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: "1.0.0",
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init telemetry: %w", err)
		}
		deps.Telemetry = tel
		deps.telemetryShutdown = shutdown
	}

	deps.Bus = bus.New(
		bus.WithDelayRange(cfg.Bus.MinDelay(), cfg.Bus.MaxDelay()),
		bus.WithLogCapacity(cfg.Bus.LogCapacity),
	)

	deps.Inventory = inventory.New(deps.Bus)
	deps.Payment = payment.New(deps.Bus)
	deps.Shipping = shipping.New(deps.Bus)
	deps.Notification = notification.New(deps.Bus)

	deps.Orchestrator = orchestrator.New(deps.Bus,
		orchestrator.WithSettleDelay(cfg.Saga.SettleDelay()))
	deps.Coordinator = choreography.New(deps.Bus,
		choreography.WithSettleDelay(cfg.Saga.SettleDelay()))

	deps.OrderHandlers = handlers.NewOrderHandlers(
		deps.Orchestrator, deps.Coordinator, deps.Bus, handlers.ModeOrchestration)

	if cfg.Database.Enabled {
		db, err := sqlx.Connect("postgres", cfg.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		deps.DB = db
		deps.EventStore = sharedinfra.NewPostgresEventStore(db)

		// Persist every event alongside the in-memory history.
		recorder := sharedinfra.NewStoreRecorder(deps.EventStore)
		for _, kind := range events.Kinds() {
			deps.Bus.Subscribe(kind, recorder)
		}
	}

	if cfg.AWS.Enabled {
		publisher, err := sharedinfra.NewSNSPublisherAdapter(ctx, cfg.AWS.SNSTopicArn)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
		}
		deps.EventPublisher = publisher

		// Mirror every bus event to SNS for external consumers.
		mirror := events.HandlerFunc(func(ctx context.Context, event *events.Event) error {
			return publisher.Publish(ctx, event)
		})
		for _, kind := range events.Kinds() {
			deps.Bus.Subscribe(kind, mirror)
		}

		// Bridge externally produced commands onto the local bus.
		deps.EventSubscriber = sharedinfra.NewSQSSubscriberAdapter(cfg.AWS.SQSQueueURL)
		bridge := events.HandlerFunc(func(ctx context.Context, event *events.Event) error {
			if !event.Kind.IsCommand() {
				return nil
			}
			return deps.Bus.Publish(ctx, event)
		})
		if err := deps.EventSubscriber.Subscribe(ctx, bridge); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to start SQS subscriber: %w", err)
		}
	}

	return deps, nil
}

// Close releases external resources in reverse acquisition order
func (d *Dependencies) Close() error {
	var firstErr error

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.telemetryShutdown != nil {
		d.telemetryShutdown()
	}

	return firstErr
}
