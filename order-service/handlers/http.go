package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ordersaga/fulfillment-system/order-service/choreography"
	"github.com/ordersaga/fulfillment-system/order-service/orchestrator"
	"github.com/ordersaga/fulfillment-system/shared/bus"
	"github.com/ordersaga/fulfillment-system/shared/models"
)

// Coordination mode selects which saga topology drives a new order.
const (
	ModeOrchestration = "orchestration"
	ModeChoreography  = "choreography"
)

// OrderHandlers contains the order HTTP handlers. Both topologies run on the
// same bus; the mode query parameter picks which one owns a new order.
type OrderHandlers struct {
	orchestrator *orchestrator.Orchestrator
	coordinator  *choreography.Coordinator
	bus          *bus.Bus
	defaultMode  string
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	orch *orchestrator.Orchestrator,
	coord *choreography.Coordinator,
	b *bus.Bus,
	defaultMode string,
) *OrderHandlers {
	if defaultMode != ModeChoreography {
		defaultMode = ModeOrchestration
	}
	return &OrderHandlers{
		orchestrator: orch,
		coordinator:  coord,
		bus:          b,
		defaultMode:  defaultMode,
	}
}

type createOrderRequest struct {
	CustomerName string `json:"customer_name"`
	Product      string `json:"product"`
	Quantity     int    `json:"quantity"`
	Address      string `json:"address"`
}

type createOrderResponse struct {
	OrderID models.ID `json:"order_id"`
	Mode    string    `json:"mode"`
}

// CreateOrder handles order creation requests
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = h.defaultMode
	}

	var (
		orderID models.ID
		err     error
	)
	switch mode {
	case ModeOrchestration:
		orderID, err = h.orchestrator.CreateOrder(r.Context(), orchestrator.CreateOrderInput{
			CustomerName: req.CustomerName,
			Product:      req.Product,
			Quantity:     req.Quantity,
			Address:      req.Address,
		})
	case ModeChoreography:
		orderID, err = h.coordinator.CreateOrder(r.Context(), choreography.CreateOrderInput{
			CustomerName: req.CustomerName,
			Product:      req.Product,
			Quantity:     req.Quantity,
			Address:      req.Address,
		})
	default:
		http.Error(w, "Unknown mode: "+mode, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(createOrderResponse{
		OrderID: orderID,
		Mode:    mode,
	})
}

// GetOrder handles single order retrieval across both registries
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.ID(chi.URLParam(r, "id"))
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	order, ok := h.orchestrator.GetOrder(orderID)
	if !ok {
		order, ok = h.coordinator.GetOrder(orderID)
	}
	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// GetAllOrders returns every order from both topologies
func (h *OrderHandlers) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.orchestrator.GetAllOrders()
	orders = append(orders, h.coordinator.GetAllOrders()...)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// GetEvents returns the published event history and the recent activity log
func (h *OrderHandlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"history": h.bus.History(),
		"log":     h.bus.Entries(),
	})
}

// Health handles health checks
func (h *OrderHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.GetAllOrders)
		r.Get("/{id}", h.GetOrder)
	})
	r.Get("/events", h.GetEvents)
	r.Get("/health", h.Health)
}
