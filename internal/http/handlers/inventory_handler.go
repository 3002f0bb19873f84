// README: Inventory handlers: batch bag intake and stock levels.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hemohive/internal/http/middleware"
	"hemohive/internal/modules/inventory"
	"hemohive/internal/types"
)

type InventoryHandler struct {
	inventory *inventory.Service
}

func NewInventoryHandler(svc *inventory.Service) *InventoryHandler {
	return &InventoryHandler{inventory: svc}
}

type addItemReq struct {
	BagID      string    `json:"bag_id"`
	BloodGroup string    `json:"blood_group"`
	Units      int       `json:"units"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type addBatchReq struct {
	Items []addItemReq `json:"items"`
}

// Add handles POST /api/inventory/add. Items are validated independently;
// the response lists what was added and why the rest was not.
func (h *InventoryHandler) Add(c *gin.Context) {
	var req addBatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Items) == 0 {
		writeError(c, http.StatusBadRequest, "empty batch")
		return
	}
	hospitalID := types.ID(middleware.CallerUID(c))
	items := make([]inventory.AddItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, inventory.AddItem{
			BagID:     strings.TrimSpace(it.BagID),
			Group:     types.BloodGroup(strings.ToUpper(strings.TrimSpace(it.BloodGroup))),
			Units:     it.Units,
			ExpiresAt: it.ExpiresAt,
		})
	}
	report, err := h.inventory.AddBatch(c.Request.Context(), hospitalID, items)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}

// ListBag handles PUT /api/inventory/bags/:bagID/list: puts an owned bag on
// the inter-facility exchange.
func (h *InventoryHandler) ListBag(c *gin.Context) {
	hospitalID := types.ID(middleware.CallerUID(c))
	bag, err := h.inventory.ListForExchange(c.Request.Context(), hospitalID, c.Param("bagID"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"bag_id": bag.BagID,
		"status": bag.Status,
	})
}

// UnlistBag handles DELETE /api/inventory/bags/:bagID/list.
func (h *InventoryHandler) UnlistBag(c *gin.Context) {
	hospitalID := types.ID(middleware.CallerUID(c))
	if err := h.inventory.Unlist(c.Request.Context(), hospitalID, c.Param("bagID")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"bag_id": c.Param("bagID"), "status": inventory.BagAvailable})
}

// Levels handles GET /api/inventory: the caller hospital's stock per group.
func (h *InventoryHandler) Levels(c *gin.Context) {
	hospitalID := types.ID(middleware.CallerUID(c))
	levels, err := h.inventory.Levels(c.Request.Context(), hospitalID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]map[string]any, 0, len(levels))
	for _, l := range levels {
		out = append(out, map[string]any{
			"blood_group": l.Group,
			"quantity":    l.Quantity,
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"hospital_id": hospitalID, "levels": out})
}
