package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/tiercache/internal/api/handler"
	"github.com/timmy/tiercache/internal/api/middleware"
	"github.com/timmy/tiercache/internal/logger"
)

// RouterDeps collects what the HTTP surface is served from.
type RouterDeps struct {
	Lookup     handler.StoreLookup
	StoreNames func() []string
	Orders     handler.OrderLister
	Admin      *handler.AdminHandler // nil disables admin routes
	Ping       func() error
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.Metrics(deps.Registerer))

	healthHandler := handler.NewHealthHandler(deps.Ping)
	productHandler := handler.NewProductHandler(deps.Lookup, deps.StoreNames)
	orderHandler := handler.NewOrderHandler(deps.Lookup, deps.Orders)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stores", productHandler.ListStores)

		store := v1.Group("/stores/:store")
		{
			store.GET("/products/:uuid", productHandler.GetProduct)
			store.PUT("/products/:uuid", productHandler.PutProduct)
			store.POST("/products/:uuid/fetch", productHandler.FetchProduct)
			store.GET("/resolve/:name", productHandler.ResolveProduct)

			store.GET("/orders", orderHandler.ListOrders)
			store.GET("/orders/:uuid", orderHandler.GetOrder)
		}

		if deps.Admin != nil {
			admin := v1.Group("/admin")
			admin.GET("/sources", deps.Admin.ListSources)
			admin.POST("/import", deps.Admin.TriggerImport)
			admin.GET("/import/status", deps.Admin.GetImportStatus)
		}
	}

	return r
}
