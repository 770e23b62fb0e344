// Package admin exposes the container registry over HTTP.
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
)

// Handler serves the admin endpoints for the containers in a registry.
type Handler struct {
	registry *container.Registry
	log      core.Logger
}

// NewHandler creates a Handler over registry. A nil log discards output.
func NewHandler(registry *container.Registry, log core.Logger) *Handler {
	if log == nil {
		log = core.NopLogger()
	}
	return &Handler{registry: registry, log: log}
}

// NewRouter returns the admin routes. gatherer backs /metrics; nil uses the
// default registry.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, ginMode string) *gin.Engine {
	if ginMode != "" {
		gin.SetMode(ginMode)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", h.ready)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/containers", h.listContainers)
	r.GET("/containers/:id", h.getContainer)
	r.POST("/containers/:id/start", h.startContainer)
	r.POST("/containers/:id/stop", h.stopContainer)

	return r
}

// ContainerView is the JSON form of a container.
type ContainerView struct {
	ID               string   `json:"id"`
	State            string   `json:"state"`
	Running          bool     `json:"running"`
	Subscription     string   `json:"subscription"`
	SubscriptionType string   `json:"subscription_type"`
	Topics           []string `json:"topics,omitempty"`
	TopicPattern     string   `json:"topic_pattern,omitempty"`
	AckMode          string   `json:"ack_mode"`
	BatchListener    bool     `json:"batch_listener"`
	Concurrency      int      `json:"concurrency"`
}

func newView(c container.Container) ContainerView {
	p := c.Properties()
	v := ContainerView{
		ID:               c.ID(),
		State:            c.State().String(),
		Running:          c.IsRunning(),
		Subscription:     p.SubscriptionName,
		SubscriptionType: p.SubscriptionType.String(),
		Topics:           p.Topics,
		TopicPattern:     p.TopicPattern,
		AckMode:          p.AckMode.String(),
		BatchListener:    p.BatchListener,
		Concurrency:      1,
	}
	if cc, ok := c.(*container.ConcurrentContainer); ok {
		v.Concurrency = cc.Concurrency()
	}
	return v
}

func (h *Handler) listContainers(c *gin.Context) {
	cs := h.registry.Containers()
	views := make([]ContainerView, 0, len(cs))
	for _, ct := range cs {
		views = append(views, newView(ct))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) lookup(c *gin.Context) (container.Container, bool) {
	ct, err := h.registry.Container(c.Param("id"))
	if errors.Is(err, container.ErrUnknownContainer) {
		c.JSON(http.StatusNotFound, gin.H{"error": "container not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, false
	}
	return ct, true
}

func (h *Handler) getContainer(c *gin.Context) {
	ct, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newView(ct))
}

func (h *Handler) startContainer(c *gin.Context) {
	ct, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := ct.Start(c.Request.Context()); err != nil {
		h.log.Error("container start failed", "container_id", ct.ID(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "container": newView(ct)})
		return
	}
	c.JSON(http.StatusOK, newView(ct))
}

func (h *Handler) stopContainer(c *gin.Context) {
	ct, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := ct.Stop(c.Request.Context()); err != nil {
		h.log.Error("container stop failed", "container_id", ct.ID(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "container": newView(ct)})
		return
	}
	c.JSON(http.StatusOK, newView(ct))
}

// ready reports 503 while any registered container is not running.
func (h *Handler) ready(c *gin.Context) {
	var notRunning []string
	for _, ct := range h.registry.Containers() {
		if !ct.IsRunning() {
			notRunning = append(notRunning, ct.ID())
		}
	}
	if len(notRunning) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "not_running": notRunning})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(log core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
