package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/middleware"
)

// Handlers groups everything NewRouter mounts.
type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Products *ProductHandler
	Orders   *OrderHandler
	Cleanup  *CleanupHandler
	Health   *HealthHandler
}

// NewRouter wires routes onto a fresh engine. authn guards the order
// routes; decode verifies the token without touching the store.
func NewRouter(h Handlers, authn, decode gin.HandlerFunc) *gin.Engine {
	router := gin.Default()
	router.SetHTMLTemplate(Templates())

	router.GET("/healthz", h.Health.Healthz)
	router.GET("/readyz", h.Health.Readyz)

	router.GET("/", h.Auth.Index)
	router.GET("/decode", decode, h.Auth.Decode)
	router.POST("/login", h.Auth.Login)
	router.GET("/login", h.Auth.LoginRedirect)
	router.GET("/callback", h.Auth.Callback)
	router.GET("/logout", h.Auth.Logout)
	router.DELETE("/cleanup", h.Cleanup.Cleanup)

	json := middleware.RequireJSON()

	router.GET("/users", json, h.Users.List)

	products := router.Group("/products", json)
	products.POST("", h.Products.Create)
	products.GET("", h.Products.List)
	products.GET("/:id", h.Products.GetByID)
	products.PUT("/:id", h.Products.Replace)
	products.PATCH("/:id", h.Products.Patch)
	products.DELETE("/:id", h.Products.Delete)

	orders := router.Group("/orders", authn, json)
	orders.POST("", h.Orders.CreateOrder)
	orders.GET("", h.Orders.ListOrders)
	orders.GET("/:id", h.Orders.GetOrder)
	orders.PUT("/:id", h.Orders.ReplaceOrder)
	orders.PATCH("/:id", h.Orders.PatchOrder)
	orders.DELETE("/:id", h.Orders.DeleteOrder)
	orders.PUT("/:id/products/:product_id", h.Orders.AttachProduct)
	orders.DELETE("/:id/products/:product_id", h.Orders.DetachProduct)

	return router
}
