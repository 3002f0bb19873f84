// README: Return request handlers: credit settlement workflow.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hemohive/internal/http/middleware"
	"hemohive/internal/modules/credit"
	"hemohive/internal/types"
)

type ReturnsHandler struct {
	credits *credit.Service
}

func NewReturnsHandler(svc *credit.Service) *ReturnsHandler {
	return &ReturnsHandler{credits: svc}
}

type createReturnReq struct {
	CreditID   string `json:"credit_id"`
	HospitalID string `json:"hospital_id"`
}

// Create handles POST /api/returns: a donor offers to settle a credit at a
// hospital. The owed units come back penalty-adjusted.
func (h *ReturnsHandler) Create(c *gin.Context) {
	var req createReturnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.CreditID == "" || req.HospitalID == "" {
		writeError(c, http.StatusBadRequest, "missing credit_id or hospital_id")
		return
	}
	userID := types.ID(middleware.CallerUID(c))
	ret, err := h.credits.CreateReturn(c.Request.Context(), types.ID(req.CreditID), userID, types.ID(req.HospitalID))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{
		"return_id": ret.ID,
		"credit_id": ret.CreditID,
		"units":     ret.Units,
		"status":    ret.Status,
	})
}

// List handles GET /api/hospital/returns.
func (h *ReturnsHandler) List(c *gin.Context) {
	hospitalID := types.ID(middleware.CallerUID(c))
	rets, err := h.credits.ListReturns(c.Request.Context(), hospitalID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(rets))
	for _, r := range rets {
		v := map[string]any{
			"return_id":  r.ID,
			"credit_id":  r.CreditID,
			"user_id":    r.UserID,
			"units":      r.Units,
			"status":     r.Status,
			"created_at": r.CreatedAt,
		}
		if r.BagID != nil {
			v["bag_id"] = *r.BagID
		}
		if r.Comments != "" {
			v["comments"] = r.Comments
		}
		out = append(out, v)
	}
	writeJSON(c, http.StatusOK, map[string]any{"returns": out})
}

type approveReturnReq struct {
	BagID     string    `json:"bag_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Approve handles POST /api/hospital/returns/:id/approve: books the returned
// bag into stock and clears the credit.
func (h *ReturnsHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing return id")
		return
	}
	var req approveReturnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	hospitalID := types.ID(middleware.CallerUID(c))
	err := h.credits.ApproveReturn(c.Request.Context(), types.ID(id), hospitalID, strings.TrimSpace(req.BagID), req.ExpiresAt)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"return_id": id, "status": credit.ReturnApproved})
}

type rejectReturnReq struct {
	Comments string `json:"comments"`
}

// Reject handles POST /api/hospital/returns/:id/reject.
func (h *ReturnsHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing return id")
		return
	}
	var req rejectReturnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	hospitalID := types.ID(middleware.CallerUID(c))
	if err := h.credits.RejectReturn(c.Request.Context(), types.ID(id), hospitalID, req.Comments); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"return_id": id, "status": credit.ReturnRejected})
}
