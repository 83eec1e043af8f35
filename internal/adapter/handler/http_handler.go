package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/core/ledger"
	"github.com/rl1809/crop-exchange/internal/core/service"
)

// PartyHeader carries the caller's party id. Authentication happens in
// front of this service.
const PartyHeader = "X-Party-ID"

// Services bundles what the transport layer calls into.
type Services struct {
	Orders    *service.OrderService
	Shipments *service.ShipmentService
	Payments  *service.PaymentService
	Batches   *service.BatchService
	Parties   *service.PartyService
}

type HTTPHandler struct {
	svc    Services
	logger *zap.Logger
}

func NewHTTPHandler(svc Services, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// NewApp builds the fiber app with every route registered.
func (h *HTTPHandler) NewApp(accessLog bool) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: h.errorHandler,
	})
	if accessLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	app.Get("/health", h.HealthCheck)

	api := app.Group("/api/v1")

	api.Post("/parties", h.RegisterParty)
	api.Get("/parties/:id", h.GetParty)
	api.Get("/parties/:id/batches", h.ListBatchesByOwner)
	api.Get("/parties/:id/orders", h.ListOrdersByParty)

	api.Post("/batches", h.RegisterBatch)
	api.Get("/batches/:id", h.GetBatch)
	api.Put("/batches/:id/listing", h.UpdateListing)
	api.Get("/batches/:id/availability", h.Availability)
	api.Get("/batches/:id/provenance", h.Provenance)
	api.Get("/marketplace", h.Marketplace)

	api.Post("/orders", orderLimiter(), h.CreateOrder)
	api.Get("/orders/:id", h.GetOrder)
	api.Post("/orders/:id/accept", h.AcceptOrder)
	api.Post("/orders/:id/reject", h.RejectOrder)
	api.Post("/orders/:id/ship", h.MarkShipped)
	api.Post("/orders/:id/deliver", h.MarkDelivered)
	api.Post("/orders/:id/shipment", h.CreateShipment)
	api.Get("/orders/:id/shipment", h.GetShipmentByOrder)
	api.Post("/orders/:id/payment", h.CapturePayment)
	api.Get("/orders/:id/payment", h.GetPayment)

	api.Get("/shipments", h.ListShipments)
	api.Get("/shipments/track/:tracking", h.TrackShipment)
	api.Get("/shipments/:id", h.GetShipment)
	api.Put("/shipments/:id/location", h.UpdateLocation)
	api.Put("/shipments/:id/condition", h.UpdateCondition)
	api.Put("/shipments/:id/status", h.UpdateShipmentStatus)
	api.Post("/shipments/:id/simulate", h.SimulateMovement)

	return app
}

// orderLimiter caps order creation per caller.
func orderLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if party := c.Get(PartyHeader); party != "" {
				return party
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: "RATE_LIMITED", Message: "too many orders"})
		},
	})
}

func (h *HTTPHandler) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{Error: "REQUEST_ERROR", Message: fe.Message})
	}

	kind := classify(err)
	if kind.httpCode >= fiber.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(kind.httpCode).JSON(ErrorResponse{Error: kind.name, Message: err.Error()})
}

func caller(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Get(PartyHeader))
	if id == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing "+PartyHeader+" header")
	}
	return id, nil
}

func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

func (h *HTTPHandler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HTTPHandler) RegisterParty(c *fiber.Ctx) error {
	var req PartyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	party, err := h.svc.Parties.RegisterParty(c.UserContext(), service.RegisterPartyRequest{
		Name:          req.Name,
		Role:          domain.Role(req.Role),
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toParty(party))
}

func (h *HTTPHandler) GetParty(c *fiber.Ctx) error {
	party, err := h.svc.Parties.GetParty(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toParty(party))
}

func (h *HTTPHandler) RegisterBatch(c *fiber.Ctx) error {
	producerID, err := caller(c)
	if err != nil {
		return err
	}
	var req RegisterBatchRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	in := service.RegisterBatchRequest{
		ProducerID: producerID,
		Name:       req.Name,
		Unit:       req.Unit,
		Quantity:   req.Quantity,
		Sellable:   req.Sellable,
	}
	if req.UnitPrice != nil {
		in.UnitPrice = decimal.NewNullDecimal(*req.UnitPrice)
	}
	batch, err := h.svc.Batches.RegisterBatch(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toBatch(batch))
}

func (h *HTTPHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.svc.Batches.GetBatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toBatch(batch))
}

func (h *HTTPHandler) UpdateListing(c *fiber.Ctx) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}
	var req ListingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	batch, err := h.svc.Batches.UpdateListing(c.UserContext(), c.Params("id"), ownerID, ledger.ListingInput{
		Sellable:  req.Sellable,
		UnitPrice: req.UnitPrice,
		Available: req.Available,
	})
	if err != nil {
		return err
	}
	return c.JSON(toBatch(batch))
}

func (h *HTTPHandler) Availability(c *fiber.Ctx) error {
	available, err := h.svc.Batches.Availability(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"batch_id": c.Params("id"), "available": available})
}

func (h *HTTPHandler) Provenance(c *fiber.Ctx) error {
	chain, err := h.svc.Batches.Provenance(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toBatches(chain))
}

func (h *HTTPHandler) Marketplace(c *fiber.Ctx) error {
	batches, err := h.svc.Batches.ListMarketplace(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(toBatches(batches))
}

func (h *HTTPHandler) ListBatchesByOwner(c *fiber.Ctx) error {
	batches, err := h.svc.Batches.ListBatchesByOwner(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toBatches(batches))
}

// CreateOrder places an order as the calling buyer. The Idempotency-Key
// header takes precedence over request_id in the body.
func (h *HTTPHandler) CreateOrder(c *fiber.Ctx) error {
	buyerID, err := caller(c)
	if err != nil {
		return err
	}
	var req CreateOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.BuyerID != "" && req.BuyerID != buyerID {
		return domain.ErrUnauthorized
	}
	requestID := req.RequestID
	if key := c.Get("Idempotency-Key"); key != "" {
		requestID = key
	}

	order, err := h.svc.Orders.CreateOrder(c.UserContext(), service.CreateOrderRequest{
		RequestID: requestID,
		BatchID:   req.BatchID,
		BuyerID:   buyerID,
		SellerID:  req.SellerID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toOrder(order))
}

func (h *HTTPHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.svc.Orders.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toOrder(order))
}

func (h *HTTPHandler) AcceptOrder(c *fiber.Ctx) error {
	sellerID, err := caller(c)
	if err != nil {
		return err
	}
	order, err := h.svc.Orders.AcceptOrder(c.UserContext(), c.Params("id"), sellerID)
	if err != nil {
		return err
	}
	return c.JSON(toOrder(order))
}

func (h *HTTPHandler) RejectOrder(c *fiber.Ctx) error {
	sellerID, err := caller(c)
	if err != nil {
		return err
	}
	order, err := h.svc.Orders.RejectOrder(c.UserContext(), c.Params("id"), sellerID)
	if err != nil {
		return err
	}
	return c.JSON(toOrder(order))
}

func (h *HTTPHandler) MarkShipped(c *fiber.Ctx) error {
	order, err := h.svc.Orders.MarkShipped(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toOrder(order))
}

func (h *HTTPHandler) MarkDelivered(c *fiber.Ctx) error {
	order, err := h.svc.Orders.MarkDelivered(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toOrder(order))
}

func (h *HTTPHandler) ListOrdersByParty(c *fiber.Ctx) error {
	orders, err := h.svc.Orders.ListOrdersByParty(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toOrders(orders))
}

func (h *HTTPHandler) CreateShipment(c *fiber.Ctx) error {
	var req ShipmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	shipment, err := h.svc.Shipments.CreateShipment(c.UserContext(), service.CreateShipmentRequest{
		OrderID:       c.Params("id"),
		Location:      req.Location,
		TransportMode: req.TransportMode,
		Carrier:       req.Carrier,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toShipment(shipment))
}

func (h *HTTPHandler) GetShipmentByOrder(c *fiber.Ctx) error {
	shipment, err := h.svc.Shipments.GetShipmentByOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) GetShipment(c *fiber.Ctx) error {
	shipment, err := h.svc.Shipments.GetShipment(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) TrackShipment(c *fiber.Ctx) error {
	shipment, err := h.svc.Shipments.Track(c.UserContext(), c.Params("tracking"))
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) ListShipments(c *fiber.Ctx) error {
	status := domain.ShipmentStatus(strings.ToUpper(c.Query("status")))
	shipments, err := h.svc.Shipments.ListShipments(c.UserContext(), status)
	if err != nil {
		return err
	}
	out := make([]ShipmentResponse, len(shipments))
	for i := range shipments {
		out[i] = toShipment(&shipments[i])
	}
	return c.JSON(out)
}

func (h *HTTPHandler) UpdateLocation(c *fiber.Ctx) error {
	var req struct {
		Location string `json:"location"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Location) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "location is required")
	}
	shipment, err := h.svc.Shipments.UpdateLocation(c.UserContext(), c.Params("id"), req.Location)
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) UpdateCondition(c *fiber.Ctx) error {
	var req ConditionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	shipment, err := h.svc.Shipments.UpdateCondition(c.UserContext(), c.Params("id"), req.Temperature, req.Humidity)
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) UpdateShipmentStatus(c *fiber.Ctx) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	status := domain.ShipmentStatus(strings.ToUpper(req.Status))
	shipment, err := h.svc.Shipments.UpdateStatus(c.UserContext(), c.Params("id"), status)
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) SimulateMovement(c *fiber.Ctx) error {
	shipment, err := h.svc.Shipments.SimulateMovement(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toShipment(shipment))
}

func (h *HTTPHandler) CapturePayment(c *fiber.Ctx) error {
	var req PaymentRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	payment, err := h.svc.Payments.Capture(c.UserContext(), service.CaptureRequest{
		OrderID: c.Params("id"),
		Method:  req.Method,
		Amount:  req.Amount,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toPayment(payment))
}

func (h *HTTPHandler) GetPayment(c *fiber.Ctx) error {
	payment, err := h.svc.Payments.GetPayment(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toPayment(payment))
}
