package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/leilaotrack/auctions_backend/config"
	"github.com/leilaotrack/auctions_backend/models"
	"github.com/leilaotrack/auctions_backend/scheduler"
	"github.com/leilaotrack/auctions_backend/utils"
	"github.com/leilaotrack/auctions_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// apiServer holds the request-time dependencies. Handlers are registered
// before the DB is connected; the readiness gate returns 503 until attach()
// has run.
type apiServer struct {
	logger *logrus.Logger

	db        *gorm.DB
	redis     *config.Redis
	manager   *scheduler.Manager
	pipelines map[models.PipelineType]*workflow.UnitPipeline

	ready atomic.Bool
}

func newAPIServer(logger *logrus.Logger) *apiServer {
	return &apiServer{
		logger:    logger,
		pipelines: map[models.PipelineType]*workflow.UnitPipeline{},
	}
}

func (s *apiServer) attach(db *gorm.DB, rdb *config.Redis, manager *scheduler.Manager, pipelines map[models.PipelineType]*workflow.UnitPipeline) {
	s.db = db
	s.redis = rdb
	s.manager = manager
	s.pipelines = pipelines
	s.ready.Store(true)
}

// readinessGate always lets the health probe through and holds app traffic
// until dependencies are connected.
func (s *apiServer) readinessGate(c *gin.Context) {
	if c.Request.URL.Path == "/healthz" {
		c.Status(http.StatusNoContent)
		c.Abort()
		return
	}
	if !s.ready.Load() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	c.Next()
}

func (s *apiServer) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api")
	api.GET("/listings", s.listListingsHandler)
	api.GET("/listings/:lot", s.getListingHandler)
	api.GET("/listings/:lot/history", s.listPriceHistoryHandler)

	api.GET("/tiers", s.listTiersHandler)
	api.POST("/tiers/:name/enable", s.setTierEnabledHandler(true))
	api.POST("/tiers/:name/disable", s.setTierEnabledHandler(false))

	api.GET("/pipelines", s.listPipelinesHandler)
	api.POST("/pipelines/:type/requeue/:lot", s.requeueWorkUnitHandler)

	api.GET("/rules", s.listRulesHandler)
	api.POST("/rules", s.createRuleHandler)
	api.GET("/notifications", s.listNotificationsHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}

func (s *apiServer) listListingsHandler(c *gin.Context) {
	filter := models.ListingFilter{
		District: strings.TrimSpace(c.Query("district")),
		Limit:    intQuery(c, "limit", config.SearchLimit),
		Offset:   intQuery(c, "offset", 0),
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		cat := models.ListingCategory(category)
		if !cat.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		filter.Category = cat
	}
	if mins := intQuery(c, "ending_within_minutes", 0); mins > 0 {
		filter.EndingWithin = time.Duration(mins) * time.Minute
	}

	listings, err := models.ListListings(c.Request.Context(), s.db, filter)
	if err != nil {
		config.LogError(s.logger, "handlers", "listListingsHandler", "list", filter, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list listings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

func (s *apiServer) getListingHandler(c *gin.Context) {
	lot := c.Param("lot")
	listing, err := models.GetListing(c.Request.Context(), s.db, lot)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load listing"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *apiServer) listPriceHistoryHandler(c *gin.Context) {
	lot := c.Param("lot")
	entries, err := models.ListPriceHistory(c.Request.Context(), s.db, lot, intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list price history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lot_number": lot, "history": entries})
}

func (s *apiServer) listTiersHandler(c *gin.Context) {
	statuses, err := s.manager.TierStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tiers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": statuses})
}

func (s *apiServer) setTierEnabledHandler(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var err error
		if enabled {
			err = s.manager.EnableTier(c.Request.Context(), name)
		} else {
			err = s.manager.DisableTier(c.Request.Context(), name)
		}
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "tier not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "is_enabled": enabled})
	}
}

func (s *apiServer) listPipelinesHandler(c *gin.Context) {
	out := make([]gin.H, 0, len(s.pipelines))
	for _, pipelineType := range []models.PipelineType{models.PipelineTypeIngest, models.PipelineTypeAI, models.PipelineTypeVehicle} {
		counts, err := models.CountWorkUnits(c.Request.Context(), s.db, pipelineType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not count work units"})
			return
		}
		entry := gin.H{"type": pipelineType, "units": counts}
		if p, ok := s.pipelines[pipelineType]; ok {
			entry["stats"] = p.Stats()
			entry["running"] = true
		} else {
			entry["running"] = false
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": out})
}

func (s *apiServer) requeueWorkUnitHandler(c *gin.Context) {
	pipelineType := models.PipelineType(c.Param("type"))
	if !pipelineType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown pipeline type"})
		return
	}
	lot := c.Param("lot")
	if err := models.RequeueFailedWorkUnit(c.Request.Context(), s.db, pipelineType, lot); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no failed work unit for that lot"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": pipelineType, "lot_number": lot, "status": models.WorkUnitStatusPending})
}

func (s *apiServer) listRulesHandler(c *gin.Context) {
	rules, err := models.ListRules(c.Request.Context(), s.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *apiServer) createRuleHandler(c *gin.Context) {
	var rule models.NotificationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(validationErrs)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !rule.RuleType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rule_type"})
		return
	}
	if rule.Category != "" && !rule.Category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	if rule.MinPrice != nil && rule.MaxPrice != nil && rule.MinPrice.GreaterThan(*rule.MaxPrice) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_price cannot exceed max_price"})
		return
	}

	rule.ID = 0
	rule.TimesTriggered = 0
	if err := models.CreateRule(c.Request.Context(), s.db, &rule); err != nil {
		config.LogError(s.logger, "handlers", "createRuleHandler", "create", rule.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *apiServer) listNotificationsHandler(c *gin.Context) {
	notifs, err := models.ListRecentNotifications(c.Request.Context(), s.db, intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifs})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
