package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/stellarpay/internal/config"
	"github.com/example/stellarpay/internal/models"
	"github.com/example/stellarpay/internal/services"
	"github.com/example/stellarpay/internal/utils"
)

// AdminHandler serves the merchant dashboard endpoints.
type AdminHandler struct {
	db         *gorm.DB
	cfg        *config.Config
	reconciler *services.Reconciler
	settings   *services.SettingsService
}

func NewAdminHandler(db *gorm.DB, cfg *config.Config, reconciler *services.Reconciler, settings *services.SettingsService) *AdminHandler {
	return &AdminHandler{db: db, cfg: cfg, reconciler: reconciler, settings: settings}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an admin and issues a JWT.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var user models.AdminUser
	err := h.db.Where("email = ?", strings.TrimSpace(req.Email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !utils.CheckPassword(user.PasswordHash, req.Password)) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "login failed")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "login failed")
	}

	return c.JSON(fiber.Map{
		"token": token,
		"email": user.Email,
	})
}

// GetSettings returns the active gateway settings snapshot.
func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	st := h.settings.Current()
	return c.JSON(fiber.Map{
		"merchant_address":        st.MerchantAddress,
		"accepted_assets":         st.AcceptedAssets,
		"payment_timeout_minutes": int(st.PaymentTimeout.Minutes()),
		"price_buffer_percent":    st.PriceBufferPercent,
		"tolerance_percent":       st.TolerancePercent,
		"tolerance_minimum":       st.ToleranceMinimum,
		"price_cache_seconds":     int(st.PriceCacheTTL.Seconds()),
	})
}

// UpdateSettings validates and applies an admin settings change.
func (h *AdminHandler) UpdateSettings(c *fiber.Ctx) error {
	var upd services.SettingsUpdate
	if err := c.BodyParser(&upd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if _, err := h.settings.Update(c.Context(), upd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return h.GetSettings(c)
}

// CheckPayment is the manual reconciliation trigger for one order.
func (h *AdminHandler) CheckPayment(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order_id")
	}

	payment, err := h.reconciler.CheckOrder(c.Context(), orderID)
	if errors.Is(err, services.ErrAlreadySettled) {
		return c.JSON(fiber.Map{
			"message": "payment already settled, no check performed",
			"payment": payment,
		})
	}
	if err != nil {
		return paymentError(err, "ADMIN_CHECK")
	}

	return c.JSON(fiber.Map{
		"message": "check completed",
		"payment": payment,
	})
}

// ListPayments returns payment records, newest first, optionally filtered by
// status.
func (h *AdminHandler) ListPayments(c *fiber.Ctx) error {
	pagination := utils.ParsePagination(c)

	query := h.db.Model(&models.Payment{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list payments")
	}

	var payments []models.Payment
	if err := query.
		Order("created_at desc").
		Limit(pagination.Limit).
		Offset(pagination.Offset).
		Find(&payments).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list payments")
	}

	return c.JSON(fiber.Map{
		"payments": payments,
		"total":    total,
		"page":     pagination.Page,
		"limit":    pagination.Limit,
	})
}

// Stats returns the payments table summary for the dashboard.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.reconciler.Stats(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to compute statistics")
	}
	return c.JSON(stats)
}
