// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"hemohive/internal/http/handlers"
	"hemohive/internal/http/middleware"
	"hemohive/internal/modules/assistant"
	"hemohive/internal/modules/credit"
	"hemohive/internal/modules/dispatch"
	"hemohive/internal/modules/driver"
	"hemohive/internal/modules/inventory"
	"hemohive/internal/modules/request"
)

func NewRouter(
	requestService *request.Service,
	dispatchService *dispatch.Service,
	inventoryService *inventory.Service,
	driverService *driver.Service,
	creditService *credit.Service,
	assistantService *assistant.Service,
	jwtSecret string,
	log zerolog.Logger,
) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(jwtSecret))

	requestHandler := handlers.NewRequestHandler(requestService)
	api.POST("/blood-requests", requestHandler.Create)

	hospital := api.Group("", middleware.RequireRole("hospital"))
	hospital.GET("/hospital/blood-requests", requestHandler.PendingQueue)
	hospital.POST("/hospital/blood-requests/:id/approve", requestHandler.Approve)
	hospital.POST("/hospital/blood-requests/:id/reject", requestHandler.Reject)
	hospital.PUT("/hospital/blood-requests/:id", requestHandler.Update)

	deliveryHandler := handlers.NewDeliveryHandler(dispatchService, driverService)
	hospital.POST("/delivery/request", deliveryHandler.Create)
	api.GET("/delivery/:id", deliveryHandler.Get)
	api.GET("/delivery/:id/route", deliveryHandler.Route)

	courier := api.Group("", middleware.RequireRole("driver"))
	courier.POST("/delivery/accept", deliveryHandler.Accept)
	courier.POST("/delivery/reject", deliveryHandler.Reject)
	courier.POST("/delivery/location", deliveryHandler.Location)
	courier.POST("/delivery/verify", deliveryHandler.VerifyPickup)
	courier.POST("/delivery/verify/dropoff", deliveryHandler.VerifyDropoff)

	inventoryHandler := handlers.NewInventoryHandler(inventoryService)
	hospital.POST("/inventory/add", inventoryHandler.Add)
	hospital.GET("/inventory", inventoryHandler.Levels)
	hospital.PUT("/inventory/bags/:bagID/list", inventoryHandler.ListBag)
	hospital.DELETE("/inventory/bags/:bagID/list", inventoryHandler.UnlistBag)

	driverHandler := handlers.NewDriverHandler(driverService)
	api.POST("/drivers", driverHandler.Register)
	courier.PUT("/drivers/:id/availability", driverHandler.Availability)

	returnsHandler := handlers.NewReturnsHandler(creditService)
	api.POST("/returns", returnsHandler.Create)
	hospital.GET("/hospital/returns", returnsHandler.List)
	hospital.POST("/hospital/returns/:id/approve", returnsHandler.Approve)
	hospital.POST("/hospital/returns/:id/reject", returnsHandler.Reject)

	assistantHandler := handlers.NewAssistantHandler(assistantService)
	api.POST("/assistant/chat", assistantHandler.Chat)

	return r
}
