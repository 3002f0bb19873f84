// README: Blood request handlers: creation and hospital review.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hemohive/internal/http/middleware"
	"hemohive/internal/modules/request"
	"hemohive/internal/types"
)

type RequestHandler struct {
	requests *request.Service
}

func NewRequestHandler(svc *request.Service) *RequestHandler {
	return &RequestHandler{requests: svc}
}

type createRequestReq struct {
	HospitalID string     `json:"hospital_id"`
	BloodGroup string     `json:"blood_group"`
	Units      int        `json:"units"`
	Urgency    string     `json:"urgency"`
	Reason     string     `json:"reason"`
	IsBorrow   bool       `json:"is_borrow"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// Create handles POST /api/blood-requests.
func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	group := types.BloodGroup(strings.ToUpper(strings.TrimSpace(req.BloodGroup)))
	if !group.Valid() || req.Units <= 0 {
		writeError(c, http.StatusBadRequest, "invalid blood group or units")
		return
	}
	cmd := request.CreateCommand{
		RequesterID: types.ID(middleware.CallerUID(c)),
		Group:       group,
		Units:       req.Units,
		Urgency:     request.Urgency(strings.ToUpper(req.Urgency)),
		Reason:      req.Reason,
		IsBorrow:    req.IsBorrow,
		ExpiresAt:   req.ExpiresAt,
	}
	if req.HospitalID != "" {
		hid := types.ID(req.HospitalID)
		cmd.HospitalID = &hid
	}
	id, err := h.requests.Create(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"request_id": id, "status": request.StatusPending})
}

// PendingQueue handles GET /api/hospital/blood-requests: the hospital's own
// pending requests plus open ones, most urgent first.
func (h *RequestHandler) PendingQueue(c *gin.Context) {
	hospitalID := types.ID(middleware.CallerUID(c))
	reqs, err := h.requests.PendingQueue(c.Request.Context(), hospitalID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, requestView(r))
	}
	writeJSON(c, http.StatusOK, map[string]any{"requests": out})
}

// Approve handles POST /api/hospital/blood-requests/:id/approve.
func (h *RequestHandler) Approve(c *gin.Context) {
	h.review(c, "approve")
}

// Reject handles POST /api/hospital/blood-requests/:id/reject.
func (h *RequestHandler) Reject(c *gin.Context) {
	h.review(c, "reject")
}

type reviewReq struct {
	Action string `json:"action"`
}

// Update handles PUT /api/hospital/blood-requests/:id with {"action": ...}.
func (h *RequestHandler) Update(c *gin.Context) {
	var req reviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action != "approve" && action != "reject" {
		writeError(c, http.StatusBadRequest, "action must be approve or reject")
		return
	}
	h.review(c, action)
}

func (h *RequestHandler) review(c *gin.Context, action string) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing request id")
		return
	}
	hospitalID := types.ID(middleware.CallerUID(c))
	var err error
	if action == "approve" {
		err = h.requests.Approve(c.Request.Context(), types.ID(id), hospitalID)
	} else {
		err = h.requests.Reject(c.Request.Context(), types.ID(id), hospitalID)
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	status := request.StatusApproved
	if action == "reject" {
		status = request.StatusRejected
	}
	writeJSON(c, http.StatusOK, map[string]any{"request_id": id, "status": status})
}

func requestView(r *request.Request) map[string]any {
	v := map[string]any{
		"request_id":  r.ID,
		"blood_group": r.Group,
		"units":       r.Units,
		"urgency":     r.Urgency,
		"status":      r.Status,
		"is_borrow":   r.IsBorrow,
		"created_at":  r.CreatedAt,
	}
	if r.HospitalID != nil {
		v["hospital_id"] = *r.HospitalID
	}
	if r.Reason != "" {
		v["reason"] = r.Reason
	}
	if r.ExpiresAt != nil {
		v["expires_at"] = *r.ExpiresAt
	}
	return v
}
