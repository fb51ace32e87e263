package domain

import (
	"github.com/ordersaga/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// Status is the saga's current state for an order
type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusCheckingInventory  Status = "CHECKING_INVENTORY"
	StatusReservingInventory Status = "RESERVING_INVENTORY"
	StatusProcessingPayment  Status = "PROCESSING_PAYMENT"
	StatusSchedulingShipping Status = "SCHEDULING_SHIPPING"
	StatusCompensating       Status = "COMPENSATING"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
)

// Terminal reports whether the status allows no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure reasons surfaced on ORDER_FAILED
const (
	ReasonOutOfStock      = "Inventario insuficiente"
	ReasonPaymentDeclined = "Pago rechazado"
)

// Order is the saga aggregate. Owned exclusively by the coordinator that
// created it; domain services never mutate it.
type Order struct {
	ID             models.ID         `json:"id"`
	CustomerName   string            `json:"customer_name"`
	Product        string            `json:"product"`
	Quantity       int               `json:"quantity"`
	Address        string            `json:"address"`
	Status         Status            `json:"status"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	TrackingNumber string            `json:"tracking_number,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Timestamps     models.Timestamps `json:"timestamps"`
}

// NewOrder creates an order in the CREATED state
func NewOrder(customerName, product string, quantity int, address string) (*Order, error) {
	if customerName == "" {
		return nil, errors.New("customer name is required")
	}
	if quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}
	if _, ok := PriceOf(product); !ok {
		return nil, errors.Errorf("unknown product %q", product)
	}

	return &Order{
		ID:           models.NewOrderID(),
		CustomerName: customerName,
		Product:      product,
		Quantity:     quantity,
		Address:      address,
		Status:       StatusCreated,
		Timestamps:   models.NewTimestamps(),
	}, nil
}

// prices per unit, in cents
var prices = map[string]models.Money{
	"laptop":     models.NewMoney(120000, "USD"),
	"smartphone": models.NewMoney(80000, "USD"),
	"tablet":     models.NewMoney(50000, "USD"),
	"headphones": models.NewMoney(15000, "USD"),
}

// PriceOf returns the unit price for a product
func PriceOf(product string) (models.Money, bool) {
	price, ok := prices[product]
	return price, ok
}

// AmountFor returns the total charge for an order line
func AmountFor(product string, quantity int) (models.Money, error) {
	price, ok := PriceOf(product)
	if !ok {
		return models.Money{}, errors.Errorf("unknown product %q", product)
	}
	return price.Mul(quantity), nil
}

// Products lists the known catalog
func Products() []string {
	names := make([]string, 0, len(prices))
	for name := range prices {
		names = append(names, name)
	}
	return names
}
