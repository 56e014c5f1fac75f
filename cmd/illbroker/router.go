package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourusername/open-ill-broker/pkg/ill"
	"github.com/yourusername/open-ill-broker/pkg/provider"
)

// APIError is the body of every non-envelope error response.
type APIError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Code   int    `json:"code"`
}

func AbortWithError(c *gin.Context, code int, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	slog.Error("api error", "path", c.Request.URL.Path, "status", code, "message", message, "error", err)
	c.AbortWithStatusJSON(code, APIError{Status: "error", Error: message, Detail: detail, Code: code})
}

type targetView struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Holds    bool   `json:"holds"`
}

type requestView struct {
	provider.ILLRequest
	Attributes map[string]string `json:"attributes"`
}

func setupRouter(a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("illbroker"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "time": time.Now()})
	})

	api := r.Group("/api")

	api.GET("/targets", func(c *gin.Context) {
		all := a.targets.All()
		views := make([]targetView, 0, len(all))
		for _, t := range all {
			views = append(views, targetView{Name: t.Name, Protocol: string(t.Protocol), Holds: t.HoldsURL != ""})
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": views})
	})

	api.GET("/statuses", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": ill.StatusGraph()})
	})

	api.GET("/capabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": a.broker.Capabilities()})
	})

	api.POST("/ill/:operation", func(c *gin.Context) {
		var p ill.Params
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&p); err != nil {
				AbortWithError(c, http.StatusBadRequest, "Invalid request body", err)
				return
			}
		}
		p.Operation = c.Param("operation")

		env, err := a.broker.Handle(c.Request.Context(), p)
		if err != nil {
			c.JSON(http.StatusInternalServerError, env)
			return
		}
		c.JSON(http.StatusOK, env)
	})

	api.GET("/ill", func(c *gin.Context) {
		if q := c.Query("q"); q != "" {
			size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
			hits, err := a.index.Search(q, size)
			if err != nil {
				AbortWithError(c, http.StatusBadRequest, "Invalid search", err)
				return
			}
			out := make([]provider.ILLRequest, 0, len(hits))
			for _, h := range hits {
				req, err := a.store.GetRequest(c.Request.Context(), h.ID)
				if errors.Is(err, provider.ErrNotFound) {
					continue
				}
				if err != nil {
					AbortWithError(c, http.StatusInternalServerError, "Failed to load request", err)
					return
				}
				out = append(out, *req)
			}
			c.JSON(http.StatusOK, gin.H{"status": "success", "data": out})
			return
		}

		filter := provider.RequestFilter{Status: c.Query("status")}
		if b := c.Query("borrower_id"); b != "" {
			id, err := strconv.ParseInt(b, 10, 64)
			if err != nil {
				AbortWithError(c, http.StatusBadRequest, "Invalid borrower_id", err)
				return
			}
			filter.BorrowerID = id
		}
		reqs, err := a.store.ListRequests(c.Request.Context(), filter)
		if err != nil {
			AbortWithError(c, http.StatusInternalServerError, "Failed to list requests", err)
			return
		}
		if reqs == nil {
			reqs = []provider.ILLRequest{}
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": reqs})
	})

	api.GET("/ill/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			AbortWithError(c, http.StatusBadRequest, "Invalid request id", err)
			return
		}
		req, err := a.store.GetRequest(c.Request.Context(), id)
		if errors.Is(err, provider.ErrNotFound) {
			AbortWithError(c, http.StatusNotFound, "Request not found", nil)
			return
		}
		if err != nil {
			AbortWithError(c, http.StatusInternalServerError, "Failed to load request", err)
			return
		}
		attrs, err := a.store.GetAttributes(c.Request.Context(), id)
		if err != nil {
			AbortWithError(c, http.StatusInternalServerError, "Failed to load attributes", err)
			return
		}
		view := requestView{ILLRequest: *req, Attributes: make(map[string]string, len(attrs))}
		for _, attr := range attrs {
			view.Attributes[attr.Type] = attr.Value
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": view})
	})

	return r
}
