// README: Driver registry handlers: registration and availability.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hemohive/internal/http/middleware"
	"hemohive/internal/modules/driver"
	"hemohive/internal/types"
)

type DriverHandler struct {
	drivers *driver.Service
}

func NewDriverHandler(svc *driver.Service) *DriverHandler {
	return &DriverHandler{drivers: svc}
}

type registerDriverReq struct {
	Phone   string `json:"phone"`
	Vehicle string `json:"vehicle"`
}

// Register handles POST /api/drivers.
func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		UserID:  types.ID(middleware.CallerUID(c)),
		Phone:   req.Phone,
		Vehicle: req.Vehicle,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"driver_id": id, "status": driver.StatusOffline})
}

type availabilityReq struct {
	Status string `json:"status"`
}

// Availability handles PUT /api/drivers/:id/availability with
// {"status": "ONLINE"|"OFFLINE"}. BUSY is owned by dispatch.
func (h *DriverHandler) Availability(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to := driver.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if to != driver.StatusOnline && to != driver.StatusOffline {
		writeError(c, http.StatusBadRequest, "status must be ONLINE or OFFLINE")
		return
	}
	// Couriers may only flip their own profile.
	me, err := h.drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil && !errors.Is(err, driver.ErrNotFound) {
		writeServiceError(c, err)
		return
	}
	if err != nil || me.ID != types.ID(id) {
		writeError(c, http.StatusForbidden, "not your driver profile")
		return
	}
	if err := h.drivers.SetAvailability(c.Request.Context(), types.ID(id), to); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": id, "status": to})
}
