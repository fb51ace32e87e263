package events

import (
	"encoding/json"

	"github.com/ordersaga/fulfillment-system/shared/models"
)

// Every payload below carries the order identifier: an event without an
// order reference cannot participate in a saga.

// InventoryPayload is carried by CHECK_INVENTORY, RESERVE_INVENTORY,
// RELEASE_INVENTORY and their outcomes.
type InventoryPayload struct {
	OrderID        models.ID `json:"order_id"`
	Product        string    `json:"product"`
	Quantity       int       `json:"quantity"`
	CurrentStock   int       `json:"current_stock,omitempty"`
	RemainingStock int       `json:"remaining_stock,omitempty"`
}

// PaymentRequestPayload is carried by PROCESS_PAYMENT and REFUND_PAYMENT.
type PaymentRequestPayload struct {
	OrderID       models.ID    `json:"order_id"`
	Amount        models.Money `json:"amount"`
	CustomerName  string       `json:"customer_name,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
}

// PaymentResultPayload is carried by PAYMENT_PROCESSED, PAYMENT_FAILED and
// PAYMENT_REFUNDED.
type PaymentResultPayload struct {
	OrderID       models.ID    `json:"order_id"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Amount        models.Money `json:"amount"`
	CustomerName  string       `json:"customer_name,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// ShippingPayload is carried by SCHEDULE_SHIPPING, SHIPPING_SCHEDULED,
// CANCEL_SHIPPING and SHIPPING_CANCELLED.
type ShippingPayload struct {
	OrderID           models.ID `json:"order_id"`
	Address           string    `json:"address,omitempty"`
	Product           string    `json:"product,omitempty"`
	TrackingNumber    string    `json:"tracking_number,omitempty"`
	EstimatedDelivery string    `json:"estimated_delivery,omitempty"`
}

// OrderResultPayload is carried by the terminal ORDER_COMPLETED and
// ORDER_FAILED events.
type OrderResultPayload struct {
	OrderID        models.ID `json:"order_id"`
	CustomerName   string    `json:"customer_name,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

func (p InventoryPayload) OrderRef() models.ID      { return p.OrderID }
func (p PaymentRequestPayload) OrderRef() models.ID { return p.OrderID }
func (p PaymentResultPayload) OrderRef() models.ID  { return p.OrderID }
func (p ShippingPayload) OrderRef() models.ID       { return p.OrderID }
func (p OrderResultPayload) OrderRef() models.ID    { return p.OrderID }

// OrderScoped is implemented by payloads tied to a saga.
type OrderScoped interface {
	OrderRef() models.ID
}

// OrderIDOf extracts the order identifier from an event payload. Falls back
// to the JSON order_id field for events that crossed a transport boundary.
func OrderIDOf(e *Event) (models.ID, bool) {
	if scoped, ok := e.Data.(OrderScoped); ok {
		return scoped.OrderRef(), true
	}

	raw, err := e.MarshalPayload()
	if err != nil {
		return "", false
	}

	var probe struct {
		OrderID models.ID `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.OrderID == "" {
		return "", false
	}
	return probe.OrderID, true
}
