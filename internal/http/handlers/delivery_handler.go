// README: Delivery handlers: dispatch lifecycle from search to dropoff.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hemohive/internal/http/middleware"
	"hemohive/internal/modules/dispatch"
	"hemohive/internal/modules/driver"
	"hemohive/internal/types"
)

type DeliveryHandler struct {
	dispatch *dispatch.Service
	drivers  *driver.Service
}

func NewDeliveryHandler(svc *dispatch.Service, drivers *driver.Service) *DeliveryHandler {
	return &DeliveryHandler{dispatch: svc, drivers: drivers}
}

// callerDriver resolves the courier's driver row from the token's user id.
// Tokens identify users; driver ids are minted at registration.
func (h *DeliveryHandler) callerDriver(c *gin.Context) (types.ID, bool) {
	d, err := h.drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if errors.Is(err, driver.ErrNotFound) {
		writeError(c, http.StatusForbidden, "no driver profile for caller")
		return "", false
	}
	if err != nil {
		writeServiceError(c, err)
		return "", false
	}
	return d.ID, true
}

type createDeliveryReq struct {
	RequestID string `json:"request_id"`
}

// Create handles POST /api/delivery/request: creates the delivery for an
// approved blood request and runs the first driver search.
func (h *DeliveryHandler) Create(c *gin.Context) {
	var req createDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RequestID == "" {
		writeError(c, http.StatusBadRequest, "missing request_id")
		return
	}
	d, proposal, err := h.dispatch.CreateForRequest(c.Request.Context(), types.ID(req.RequestID))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	resp := map[string]any{
		"delivery_id":  d.ID,
		"status":       d.Status,
		"pickup_code":  d.PickupCode,
		"dropoff_code": d.DropoffCode,
	}
	if proposal != nil {
		resp["proposal"] = proposal
	}
	writeJSON(c, http.StatusCreated, resp)
}

type acceptReq struct {
	DeliveryID string `json:"delivery_id"`
}

// Accept handles POST /api/delivery/accept: the proposed driver takes the job.
func (h *DeliveryHandler) Accept(c *gin.Context) {
	var req acceptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeliveryID == "" {
		writeError(c, http.StatusBadRequest, "missing delivery_id")
		return
	}
	driverID, ok := h.callerDriver(c)
	if !ok {
		return
	}
	if err := h.dispatch.Accept(c.Request.Context(), types.ID(req.DeliveryID), driverID); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"delivery_id": req.DeliveryID, "status": dispatch.StatusAssigned})
}

type rejectReq struct {
	DeliveryID string `json:"delivery_id"`
	Reason     string `json:"reason"`
}

// Reject handles POST /api/delivery/reject: the proposed driver declines and
// the search moves to the next candidate.
func (h *DeliveryHandler) Reject(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeliveryID == "" {
		writeError(c, http.StatusBadRequest, "missing delivery_id")
		return
	}
	proposal, err := h.dispatch.Reject(c.Request.Context(), types.ID(req.DeliveryID), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	resp := map[string]any{"delivery_id": req.DeliveryID, "status": dispatch.StatusSearching}
	if proposal != nil {
		resp["proposal"] = proposal
	} else {
		// The rejection stuck; there is just nobody left to propose.
		resp["no_driver_available"] = true
	}
	writeJSON(c, http.StatusOK, resp)
}

type locationReq struct {
	DeliveryID string  `json:"delivery_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// Location handles POST /api/delivery/location: courier position updates,
// recorded on the delivery track while one is referenced.
func (h *DeliveryHandler) Location(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	driverID, ok := h.callerDriver(c)
	if !ok {
		return
	}
	var deliveryID *types.ID
	if req.DeliveryID != "" {
		id := types.ID(req.DeliveryID)
		deliveryID = &id
	}
	err := h.dispatch.UpdateLocation(c.Request.Context(), driverID, types.Point{Lat: req.Lat, Lng: req.Lng}, deliveryID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ok": true})
}

type verifyReq struct {
	DeliveryID string `json:"delivery_id"`
	Code       string `json:"code"`
}

// VerifyPickup handles POST /api/delivery/verify.
func (h *DeliveryHandler) VerifyPickup(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeliveryID == "" || req.Code == "" {
		writeError(c, http.StatusBadRequest, "missing delivery_id or code")
		return
	}
	if err := h.dispatch.VerifyPickup(c.Request.Context(), types.ID(req.DeliveryID), req.Code); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"delivery_id": req.DeliveryID, "status": dispatch.StatusPickedUp})
}

// VerifyDropoff handles POST /api/delivery/verify/dropoff: completes the
// delivery and reconciles inventory, request, and driver state.
func (h *DeliveryHandler) VerifyDropoff(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeliveryID == "" || req.Code == "" {
		writeError(c, http.StatusBadRequest, "missing delivery_id or code")
		return
	}
	if err := h.dispatch.VerifyDropoff(c.Request.Context(), types.ID(req.DeliveryID), req.Code); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"delivery_id": req.DeliveryID, "status": dispatch.StatusDelivered})
}

// Get handles GET /api/delivery/:id.
func (h *DeliveryHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	d, err := h.dispatch.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, deliveryView(d))
}

// Route handles GET /api/delivery/:id/route.
func (h *DeliveryHandler) Route(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing delivery id")
		return
	}
	points, err := h.dispatch.Route(c.Request.Context(), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]any{
			"lat":         p.Position.Lat,
			"lng":         p.Position.Lng,
			"recorded_at": p.RecordedAt,
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"delivery_id": id, "route": out})
}

func deliveryView(d *dispatch.Delivery) map[string]any {
	v := map[string]any{
		"delivery_id":    d.ID,
		"request_id":     d.RequestID,
		"status":         d.Status,
		"status_version": d.StatusVersion,
		"created_at":     d.CreatedAt,
	}
	if d.BagID != nil {
		v["bag_id"] = *d.BagID
	}
	if d.DriverID != nil {
		v["driver_id"] = *d.DriverID
	}
	if d.ProposedDriverID != nil {
		v["proposed_driver_id"] = *d.ProposedDriverID
	}
	if d.AcceptanceDeadline != nil {
		v["acceptance_deadline"] = *d.AcceptanceDeadline
	}
	if len(d.RejectedDriverIDs) > 0 {
		v["rejected_driver_ids"] = d.RejectedDriverIDs
	}
	if d.StartedAt != nil {
		v["started_at"] = *d.StartedAt
	}
	if d.EndedAt != nil {
		v["ended_at"] = *d.EndedAt
	}
	return v
}
