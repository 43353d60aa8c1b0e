package management

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stepgate/internal/constants"
	"stepgate/internal/logger"
	"stepgate/pkg/cel"
	"stepgate/pkg/errors"
)

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.InfowCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path, "status", status)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
		errors.ErrValidation.WithCause(err).WithDetail("message", err.Error()),
	))
}

// auditContext carries the caller address into audit entries.
func auditContext(c *gin.Context) context.Context {
	return WithClientIP(c.Request.Context(), c.ClientIP())
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		filters := v1.Group("/step-filters")
		{
			filters.GET("", h.ListStepFilters)
			filters.POST("", h.CreateStepFilter)
			filters.POST("/evaluate", h.EvaluateStepFilter)
			filters.GET("/expression-examples", h.ListExpressionExamples)
			filters.GET("/:id", h.GetStepFilter)
			filters.PUT("/:id", h.UpdateStepFilter)
			filters.DELETE("/:id", h.DeleteStepFilter)
			filters.GET("/:id/audit", h.GetStepFilterAuditLogs)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

// ListStepFilters godoc
// @Summary      List step filters
// @Description  List stored step filters, optionally narrowed to a workflow or step
// @Tags         step-filters
// @Accept       json
// @Produce      json
// @Param        workflow_id  query     string  false  "Workflow ID"
// @Param        step_id      query     string  false  "Step ID"
// @Success      200  {array}   StepFilter
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /step-filters [get]
func (h *Handler) ListStepFilters(c *gin.Context) {
	rules, err := h.Service.ListStepFilters(c.Request.Context(), ListStepFiltersQuery{
		WorkflowID: c.Query("workflow_id"),
		StepID:     c.Query("step_id"),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateStepFilter godoc
// @Summary      Create a step filter
// @Description  Validate and store a step filter; filters must decode as filter trees and the expression must be a boolean CEL expression
// @Tags         step-filters
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateStepFilterRequest  true  "Step filter"
// @Success      201   {object}  StepFilter
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      422   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /step-filters [post]
func (h *Handler) CreateStepFilter(c *gin.Context) {
	var req CreateStepFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	rule, err := h.Service.CreateStepFilter(auditContext(c), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// EvaluateStepFilter godoc
// @Summary      Dry run step filters
// @Description  Evaluate filters and an optional expression against a supplied context and explain the verdict
// @Tags         step-filters
// @Accept       json
// @Produce      json
// @Param        request  body      DryRunRequest  true  "Filters and context"
// @Success      200      {object}  DryRunResponse
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      422      {object}  errors.ErrorResponse
// @Router       /step-filters/evaluate [post]
func (h *Handler) EvaluateStepFilter(c *gin.Context) {
	var req DryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	resp, err := h.Service.DryRun(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetStepFilter godoc
// @Summary      Get a step filter
// @Tags         step-filters
// @Produce      json
// @Param        id   path      string  true  "Step filter ID"
// @Success      200  {object}  StepFilter
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /step-filters/{id} [get]
func (h *Handler) GetStepFilter(c *gin.Context) {
	rule, err := h.Service.GetStepFilter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateStepFilter godoc
// @Summary      Update a step filter
// @Description  Partially update a step filter; filters are replaced as a whole when present
// @Tags         step-filters
// @Accept       json
// @Produce      json
// @Param        id    path      string                   true  "Step filter ID"
// @Param        rule  body      UpdateStepFilterRequest  true  "Changed fields"
// @Success      200   {object}  StepFilter
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      422   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /step-filters/{id} [put]
func (h *Handler) UpdateStepFilter(c *gin.Context) {
	var req UpdateStepFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	rule, err := h.Service.UpdateStepFilter(auditContext(c), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteStepFilter godoc
// @Summary      Delete a step filter
// @Tags         step-filters
// @Param        id   path  string  true  "Step filter ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /step-filters/{id} [delete]
func (h *Handler) DeleteStepFilter(c *gin.Context) {
	if err := h.Service.DeleteStepFilter(auditContext(c), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetStepFilterAuditLogs godoc
// @Summary      Audit trail of a step filter
// @Tags         audit
// @Produce      json
// @Param        id     path      string  true   "Step filter ID"
// @Param        limit  query     int     false  "Maximum entries"
// @Success      200    {array}   AuditLog
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /step-filters/{id}/audit [get]
func (h *Handler) GetStepFilterAuditLogs(c *gin.Context) {
	logs, err := h.Service.GetAuditLogs(c.Request.Context(), AuditQuery{
		RuleID: c.Param("id"),
		Limit:  parseLimit(c.Query("limit")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetAuditLogs godoc
// @Summary      List audit logs
// @Tags         audit
// @Produce      json
// @Param        rule_id      query     string  false  "Step filter ID"
// @Param        workflow_id  query     string  false  "Workflow ID"
// @Param        limit        query     int     false  "Maximum entries"
// @Success      200          {array}   AuditLog
// @Failure      500          {object}  errors.ErrorResponse
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	logs, err := h.Service.GetAuditLogs(c.Request.Context(), AuditQuery{
		RuleID:     c.Query("rule_id"),
		WorkflowID: c.Query("workflow_id"),
		Limit:      parseLimit(c.Query("limit")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

// ListExpressionExamples godoc
// @Summary      CEL expression examples
// @Description  Sample rule expressions over the variables a step filter expression can read
// @Tags         step-filters
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /step-filters/expression-examples [get]
func (h *Handler) ListExpressionExamples(c *gin.Context) {
	c.JSON(http.StatusOK, cel.FilterExpressionExamples)
}
