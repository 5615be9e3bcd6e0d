package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/middlewares"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("piticrm")

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// httpStatusFromError maps domain error codes onto HTTP statuses.
func httpStatusFromError(err error) int {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeInvalidState, utils.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func respondError(c *gin.Context, err error) {
	body := gin.H{
		"code":  utils.ErrorCode(err),
		"error": err.Error(),
	}
	if utils.IsConflict(err) {
		body["retryable"] = true
	}
	if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
		body["correlation_id"] = cid
	}
	c.JSON(httpStatusFromError(err), body)
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		fields := utils.ProcessValidationErrors(err)
		if len(fields) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": utils.ErrCodeValidation, "error": "invalid request", "fields": fields})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"code": utils.ErrCodeValidation, "error": "invalid request body"})
		}
		return false
	}
	return true
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": utils.ErrCodeValidation, "error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

/* funnel handlers */

func createFunnelHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateFunnel")
	defer span.End()

	var input models.NewFunnel
	if !bindJSON(c, &input) {
		return
	}
	funnel, err := workflow.CreateFunnel(ctx, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, funnel)
}

func renameFunnelHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input struct {
		Name string `json:"name" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}
	funnel, err := workflow.RenameFunnel(c.Request.Context(), id, input.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnel)
}

func getFunnelsHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	funnels, err := models.GetFunnels(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnels)
}

func getFunnelHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	funnel, err := models.GetFunnel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnel)
}

func appendStageHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewStage
	if !bindJSON(c, &input) {
		return
	}
	stage, err := workflow.AppendStage(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stage)
}

func reorderStagesHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input struct {
		StageIds []int `json:"stage_ids" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}
	funnel, err := workflow.ReorderStages(c.Request.Context(), id, input.StageIds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnel)
}

func updateStageHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input struct {
		Name  string `json:"name" binding:"required"`
		Color string `json:"color"`
	}
	if !bindJSON(c, &input) {
		return
	}
	stage, err := workflow.RenameStage(c.Request.Context(), id, input.Name, input.Color)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func deleteStageHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	stage, err := workflow.DeleteStage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func funnelStatsHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "GetFunnelStats")
	defer span.End()

	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	stats, err := models.GetFunnelStats(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

/* lead handlers */

func createLeadHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CreateLead")
	defer span.End()

	var input models.NewLead
	if !bindJSON(c, &input) {
		return
	}
	lead, err := workflow.CreateLead(ctx, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func leadFilterFromQuery(c *gin.Context) (*models.LeadFilter, error) {
	var filter models.LeadFilter
	if v := c.Query("funnel_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, utils.NewValidationError("funnel_id must be an integer")
		}
		filter.FunnelId = &id
	}
	if v := c.Query("stage_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, utils.NewValidationError("stage_id must be an integer")
		}
		filter.StageId = &id
	}
	if v := c.Query("status"); v != "" {
		status, err := models.ParseLeadStatus(v)
		if err != nil {
			return nil, err
		}
		filter.Status = &status
	}
	if v := c.Query("q"); v != "" {
		filter.Query = &v
	}
	return &filter, nil
}

func getLeadsHandler(c *gin.Context) {
	filter, err := leadFilterFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	// pagination only when the client asks for it
	if v := c.Query("limit"); v != "" {
		limit, convErr := strconv.Atoi(v)
		if convErr != nil || limit <= 0 {
			respondError(c, utils.NewValidationError("limit must be a positive integer"))
			return
		}
		var after *string
		if a := c.Query("after"); a != "" {
			after = &a
		}
		connection, err := models.PaginateLead(c.Request.Context(), &limit, after, filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
		return
	}

	leads, err := models.GetLeads(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, leads)
}

func getLeadHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lead, err := models.GetLead(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func updateLeadHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.LeadPatch
	if !bindJSON(c, &input) {
		return
	}
	lead, err := workflow.UpdateLead(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func deleteLeadHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lead, err := workflow.DeleteLead(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func moveLeadHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "MoveLeadStage")
	defer span.End()

	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input struct {
		StageId int `json:"stage_id" binding:"required"`
	}
	if !bindJSON(c, &input) {
		return
	}
	lead, err := workflow.MoveLeadStage(ctx, id, input.StageId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func leadStatusHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ChangeLeadStatus")
	defer span.End()

	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input struct {
		Status     string `json:"status" binding:"required"`
		LossReason string `json:"loss_reason"`
	}
	if !bindJSON(c, &input) {
		return
	}

	var lead *models.Lead
	var err error
	switch models.LeadStatus(input.Status) {
	case models.LeadStatusWon:
		lead, err = workflow.MarkLeadWon(ctx, id)
	case models.LeadStatusLost:
		lead, err = workflow.MarkLeadLost(ctx, id, input.LossReason)
	default:
		err = utils.NewValidationError("status must be won or lost")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

/* attachment handlers */

func attachHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewAttachment
	if !bindJSON(c, &input) {
		return
	}
	kind, err := models.ParseAttachmentKind(string(input.Kind))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := workflow.AttachLeadTarget(c.Request.Context(), id, kind, input.TargetId); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func detachHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	kind, err := models.ParseAttachmentKind(c.Param("kind"))
	if err != nil {
		respondError(c, err)
		return
	}
	targetId, ok := pathId(c, "targetId")
	if !ok {
		return
	}
	if err := workflow.DetachLeadTarget(c.Request.Context(), id, kind, targetId); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listAttachmentsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	kind, err := models.ParseAttachmentKind(c.Param("kind"))
	if err != nil {
		respondError(c, err)
		return
	}

	var targets []*models.AttachmentTarget
	if c.Query("available") == "true" {
		targets, err = models.ListAvailableTargets(c.Request.Context(), id, kind)
	} else {
		targets, err = models.ListAttachedTargets(c.Request.Context(), id, kind)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, targets)
}

/* comment & history handlers */

func addCommentHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewComment
	if !bindJSON(c, &input) {
		return
	}
	comment, err := workflow.AddLeadComment(c.Request.Context(), id, input.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func getCommentsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	comments, err := models.GetLeadComments(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comments)
}

func getLeadHistoryHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}

	if v := c.Query("limit"); v != "" {
		limit, convErr := strconv.Atoi(v)
		if convErr != nil || limit <= 0 {
			respondError(c, utils.NewValidationError("limit must be a positive integer"))
			return
		}
		var after *string
		if a := c.Query("after"); a != "" {
			after = &a
		}
		var actionType *models.LeadActionType
		if a := c.Query("action_type"); a != "" {
			at := models.LeadActionType(a)
			actionType = &at
		}
		connection, err := models.PaginateLeadHistory(c.Request.Context(), &limit, after, id, actionType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
		return
	}

	histories, err := models.GetLeadHistories(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

/* entity store handlers */

func registerContactRoutes(r *gin.Engine) {
	r.POST("/contacts", func(c *gin.Context) {
		var input models.NewContact
		if !bindJSON(c, &input) {
			return
		}
		contact, err := models.CreateContact(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, contact)
	})
	r.GET("/contacts", func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}
		contacts, err := models.GetContacts(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, contacts)
	})
	r.GET("/contacts/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		contact, err := models.GetContact(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, contact)
	})
	r.PUT("/contacts/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewContact
		if !bindJSON(c, &input) {
			return
		}
		contact, err := models.UpdateContact(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, contact)
	})
	r.DELETE("/contacts/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		contact, err := models.DeleteContact(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, contact)
	})
}

func registerOrganizationRoutes(r *gin.Engine) {
	r.POST("/organizations", func(c *gin.Context) {
		var input models.NewOrganization
		if !bindJSON(c, &input) {
			return
		}
		organization, err := models.CreateOrganization(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, organization)
	})
	r.GET("/organizations", func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}
		organizations, err := models.GetOrganizations(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, organizations)
	})
	r.GET("/organizations/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		organization, err := models.GetOrganization(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, organization)
	})
	r.PUT("/organizations/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewOrganization
		if !bindJSON(c, &input) {
			return
		}
		organization, err := models.UpdateOrganization(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, organization)
	})
	r.DELETE("/organizations/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		organization, err := models.DeleteOrganization(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, organization)
	})
}

func registerActivityRoutes(r *gin.Engine) {
	r.POST("/activities", func(c *gin.Context) {
		var input models.NewActivity
		if !bindJSON(c, &input) {
			return
		}
		activity, err := models.CreateActivity(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, activity)
	})
	r.GET("/activities", func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}
		activities, err := models.GetActivities(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, activities)
	})
	r.GET("/activities/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		activity, err := models.GetActivity(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, activity)
	})
	r.PUT("/activities/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewActivity
		if !bindJSON(c, &input) {
			return
		}
		activity, err := models.UpdateActivity(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, activity)
	})
	r.DELETE("/activities/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		activity, err := models.DeleteActivity(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, activity)
	})
}

func registerPropertyRoutes(r *gin.Engine) {
	r.POST("/properties", func(c *gin.Context) {
		var input models.NewProperty
		if !bindJSON(c, &input) {
			return
		}
		property, err := models.CreateProperty(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, property)
	})
	r.GET("/properties", func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}
		properties, err := models.GetProperties(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, properties)
	})
	r.GET("/properties/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		property, err := models.GetProperty(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, property)
	})
	r.PUT("/properties/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewProperty
		if !bindJSON(c, &input) {
			return
		}
		property, err := models.UpdateProperty(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, property)
	})
	r.DELETE("/properties/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		property, err := models.DeleteProperty(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, property)
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return utils.UniqueSlice(out)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "x-business-id", "x-actor-id", "x-actor-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.ActorMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/funnels", createFunnelHandler)
	r.GET("/funnels", getFunnelsHandler)
	r.GET("/funnels/:id", getFunnelHandler)
	r.PUT("/funnels/:id", renameFunnelHandler)
	r.POST("/funnels/:id/stages", appendStageHandler)
	r.PUT("/funnels/:id/stages/reorder", reorderStagesHandler)
	r.GET("/funnels/:id/stats", funnelStatsHandler)
	r.PUT("/stages/:id", updateStageHandler)
	r.DELETE("/stages/:id", deleteStageHandler)

	r.POST("/leads", createLeadHandler)
	r.GET("/leads", getLeadsHandler)
	r.GET("/leads/:id", getLeadHandler)
	r.PUT("/leads/:id", updateLeadHandler)
	r.DELETE("/leads/:id", deleteLeadHandler)
	r.POST("/leads/:id/move", moveLeadHandler)
	r.POST("/leads/:id/status", leadStatusHandler)
	r.POST("/leads/:id/attachments", attachHandler)
	r.GET("/leads/:id/attachments/:kind", listAttachmentsHandler)
	r.DELETE("/leads/:id/attachments/:kind/:targetId", detachHandler)
	r.POST("/leads/:id/comments", addCommentHandler)
	r.GET("/leads/:id/comments", getCommentsHandler)
	r.GET("/leads/:id/history", getLeadHistoryHandler)

	registerContactRoutes(r)
	registerOrganizationRoutes(r)
	registerActivityRoutes(r)
	registerPropertyRoutes(r)

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
