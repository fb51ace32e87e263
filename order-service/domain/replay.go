package domain

import (
	"github.com/ordersaga/fulfillment-system/shared/events"
	"github.com/ordersaga/fulfillment-system/shared/models"
)

// ReplayStatus projects a recorded event history onto per-order statuses.
// Replaying the same history against a fresh registry reconstructs the same
// terminal status for every order, which makes the history an audit log
// rather than just a trace.
func ReplayStatus(history []*events.Event) map[models.ID]Status {
	statuses := make(map[models.ID]Status)

	for _, event := range history {
		orderID, ok := events.OrderIDOf(event)
		if !ok {
			continue
		}
		if current, seen := statuses[orderID]; seen && current.Terminal() {
			continue
		}

		switch event.Kind {
		case events.CheckInventory:
			statuses[orderID] = StatusCheckingInventory
		case events.ReserveInventory:
			statuses[orderID] = StatusReservingInventory
		case events.ProcessPayment:
			statuses[orderID] = StatusProcessingPayment
		case events.ReleaseInventory:
			statuses[orderID] = StatusCompensating
		case events.ScheduleShipping:
			statuses[orderID] = StatusSchedulingShipping
		case events.OrderCompleted:
			statuses[orderID] = StatusCompleted
		case events.OrderFailed:
			statuses[orderID] = StatusFailed
		}
	}

	return statuses
}
