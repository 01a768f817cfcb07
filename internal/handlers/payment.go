package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/example/stellarpay/internal/amount"
	"github.com/example/stellarpay/internal/pricing"
	"github.com/example/stellarpay/internal/services"
	"github.com/example/stellarpay/internal/token"
)

// PaymentHandler serves the buyer-facing payment endpoints.
type PaymentHandler struct {
	reconciler *services.Reconciler
	oracle     *pricing.Oracle
	registry   *token.Registry
	settings   *services.SettingsService
	orders     services.OrderStore
}

func NewPaymentHandler(reconciler *services.Reconciler, oracle *pricing.Oracle, registry *token.Registry, settings *services.SettingsService, orders services.OrderStore) *PaymentHandler {
	return &PaymentHandler{
		reconciler: reconciler,
		oracle:     oracle,
		registry:   registry,
		settings:   settings,
		orders:     orders,
	}
}

type statusRequest struct {
	OrderID  string `json:"order_id"`
	OrderKey string `json:"order_key"`
	Force    bool   `json:"force"`
}

type createPaymentRequest struct {
	OrderID   string `json:"order_id"`
	OrderKey  string `json:"order_key"`
	AssetCode string `json:"asset_code"`
}

// Status handles the browser's payment status poll.
func (h *PaymentHandler) Status(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return h.status(c, req)
}

// StatusREST is the GET fallback with identical semantics, for deployments
// where the POST endpoint sits behind a cache that cannot run dynamic logic.
func (h *PaymentHandler) StatusREST(c *fiber.Ctx) error {
	return h.status(c, statusRequest{
		OrderID:  c.Params("order_id"),
		OrderKey: c.Query("key"),
		Force:    c.Query("force") == "1" || c.Query("force") == "true",
	})
}

func (h *PaymentHandler) status(c *fiber.Ctx, req statusRequest) error {
	orderID, orderKey, err := parseOrderCredentials(req.OrderID, req.OrderKey)
	if err != nil {
		return err
	}

	result, err := h.reconciler.Status(c.Context(), orderID, orderKey, req.Force)
	if err != nil {
		return paymentError(err, "STATUS")
	}
	return c.JSON(result)
}

// Create creates or reuses the payment record for an order and returns the
// payment instructions.
func (h *PaymentHandler) Create(c *fiber.Ctx) error {
	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	orderID, orderKey, err := parseOrderCredentials(req.OrderID, req.OrderKey)
	if err != nil {
		return err
	}
	if err := h.authorize(c, orderID, orderKey); err != nil {
		return err
	}

	payment, err := h.reconciler.CreatePayment(c.Context(), orderID, req.AssetCode)
	if err != nil {
		return paymentError(err, "CREATE")
	}

	return c.JSON(fiber.Map{
		"order_id":     payment.OrderID,
		"address":      payment.MerchantAddress,
		"memo":         payment.Memo,
		"memo_type":    "text",
		"asset_code":   payment.AssetCode,
		"asset_issuer": payment.AssetIssuer,
		"amount":       payment.AmountToken.StringFixed(amount.Scale),
		"amount_usd":   payment.AmountUSD,
		"expires_at":   payment.ExpiresAt,
		"status":       payment.Status,
	})
}

// QR renders the payment request as a SEP-0007 pay URI QR code.
func (h *PaymentHandler) QR(c *fiber.Ctx) error {
	orderID, orderKey, err := parseOrderCredentials(c.Params("order_id"), c.Query("key"))
	if err != nil {
		return err
	}
	if err := h.authorize(c, orderID, orderKey); err != nil {
		return err
	}

	payment, err := h.reconciler.Payment(c.Context(), orderID)
	if err != nil {
		return paymentError(err, "QR")
	}

	q := url.Values{}
	q.Set("destination", payment.MerchantAddress)
	q.Set("amount", payment.AmountToken.StringFixed(amount.Scale))
	q.Set("memo", payment.Memo)
	q.Set("memo_type", "MEMO_TEXT")
	if payment.AssetIssuer != "" {
		q.Set("asset_code", payment.AssetCode)
		q.Set("asset_issuer", payment.AssetIssuer)
	}
	uri := "web+stellar:pay?" + q.Encode()

	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to render QR code")
	}

	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}

// Prices returns current USD prices for the requested asset codes, or for
// every accepted asset when none are given.
func (h *PaymentHandler) Prices(c *fiber.Ctx) error {
	return h.prices(c, false, c.Query("codes"))
}

// RefreshPrices forces a fresh fetch before returning prices.
func (h *PaymentHandler) RefreshPrices(c *fiber.Ctx) error {
	var req struct {
		Codes string `json:"codes"`
	}
	_ = c.BodyParser(&req)
	return h.prices(c, true, req.Codes)
}

func (h *PaymentHandler) prices(c *fiber.Ctx, force bool, rawCodes string) error {
	var codes []string
	for _, part := range strings.Split(rawCodes, ",") {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		codes = h.settings.Current().AcceptedAssets
	}

	prices := fiber.Map{}
	for _, code := range codes {
		if _, ok := h.registry.Get(code); !ok {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unsupported asset: %s", code))
		}
		price, err := h.oracle.Price(c.Context(), code, force)
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, fmt.Sprintf("price unavailable for %s (ERR_PRICE)", code))
		}
		prices[strings.ToUpper(code)] = price
	}

	return c.JSON(fiber.Map{"prices": prices})
}

func (h *PaymentHandler) authorize(c *fiber.Ctx, orderID, orderKey uuid.UUID) error {
	key, err := h.orders.OrderKey(c.Context(), orderID)
	if err != nil {
		return paymentError(err, "AUTH")
	}
	if key == uuid.Nil || key != orderKey {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid order key")
	}
	return nil
}

func parseOrderCredentials(rawID, rawKey string) (uuid.UUID, uuid.UUID, error) {
	orderID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid order_id")
	}
	orderKey, err := uuid.Parse(strings.TrimSpace(rawKey))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid order_key")
	}
	return orderID, orderKey, nil
}

// paymentError maps engine errors to HTTP responses without leaking
// upstream detail. Unexpected errors become a generic message with an
// internal code.
func paymentError(err error, code string) error {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, "invalid order key")
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrPaymentNotFound):
		return fiber.NewError(fiber.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrAlreadySettled):
		return fiber.NewError(fiber.StatusConflict, "payment already settled")
	case errors.Is(err, services.ErrUnsupportedAsset):
		return fiber.NewError(fiber.StatusBadRequest, "unsupported asset")
	case errors.Is(err, services.ErrNotConfigured):
		return fiber.NewError(fiber.StatusServiceUnavailable, "payment gateway unavailable")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("payment request failed (ERR_%s)", code))
	}
}
