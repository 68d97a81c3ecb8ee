package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildAdminHandler assembles the admin listener: health probes,
// Prometheus metrics and operational introspection.
func (g *Gateway) buildAdminHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	g.checker.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := router.Group("/admin")
	{
		admin.GET("/breakers", g.handleBreakerStats)
		admin.GET("/services", g.handleServiceList)
		admin.GET("/routes", g.handleRouteList)
	}

	return router
}

func (g *Gateway) handleBreakerStats(gc *gin.Context) {
	gc.JSON(http.StatusOK, g.breakers.Stats())
}

func (g *Gateway) handleServiceList(gc *gin.Context) {
	type serviceView struct {
		Name    string `json:"name"`
		BaseURL string `json:"baseUrl"`
		Prefix  string `json:"prefix"`
		Healthy bool   `json:"healthy"`
	}

	entries := g.registry.List()
	out := make([]serviceView, 0, len(entries))
	for _, e := range entries {
		out = append(out, serviceView{
			Name:    e.Name,
			BaseURL: e.BaseURL.String(),
			Prefix:  e.Prefix,
			Healthy: e.Healthy(),
		})
	}
	gc.JSON(http.StatusOK, out)
}

func (g *Gateway) handleRouteList(gc *gin.Context) {
	gc.JSON(http.StatusOK, g.authzManager.Rules())
}
