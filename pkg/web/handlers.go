// Package web provides HTTP handlers and REST API endpoints for rule
// automation management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deskflowhq/deskflow/pkg/engine"
	"github.com/deskflowhq/deskflow/pkg/metrics"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/deskflowhq/deskflow/pkg/rules"
	"github.com/deskflowhq/deskflow/pkg/templates"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultTopRules = 5

type APIHandlers struct {
	ruleService *rules.Service
	dispatcher  *engine.Dispatcher
	engine      *engine.Engine
	expander    *templates.Expander
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	ruleService *rules.Service,
	dispatcher *engine.Dispatcher,
	eng *engine.Engine,
	expander *templates.Expander,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		ruleService: ruleService,
		dispatcher:  dispatcher,
		engine:      eng,
		expander:    expander,
		persistence: p,
		validator:   validator,
	}
}

func (h *APIHandlers) GetRules(c fiber.Ctx) error {
	filter := rules.ListFilter{
		Category: c.Query("category"),
		Tag:      c.Query("tag"),
	}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid active parameter: "+err.Error())
		}

		filter.Active = &active
	}

	ruleList, err := h.ruleService.List(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"rules":       ruleList,
		"total_count": len(ruleList),
	})
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	rule, err := h.ruleService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) CreateRule(c fiber.Ctx) error {
	var req CreateRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.ruleService.Create(c.Context(), req.toRule())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateRule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	var req UpdateRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.ruleService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	req.apply(existing)

	updated, err := h.ruleService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	if h.engine.RunningCount(id) > 0 {
		return conflict(c, "rule has in-flight executions, retry after they finish")
	}

	if err := h.ruleService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateRule(c fiber.Ctx) error {
	return h.setRuleActive(c, true)
}

// DeactivateRule disables the rule and requests cancellation of its
// in-flight executions; each one stops before its next action.
func (h *APIHandlers) DeactivateRule(c fiber.Ctx) error {
	return h.setRuleActive(c, false)
}

func (h *APIHandlers) setRuleActive(c fiber.Ctx, active bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	rule, err := h.ruleService.SetActive(c.Context(), id, active)
	if err != nil {
		return handleServiceError(c, err)
	}

	cancelled := 0
	if !active {
		cancelled = h.engine.CancelRule(id)
	}

	return c.JSON(fiber.Map{
		"rule":                 rule,
		"cancelled_executions": cancelled,
	})
}

// ExecuteRule fires one rule manually and returns the started
// execution; completion is observed via the executions endpoints.
func (h *APIHandlers) ExecuteRule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	var req ExecuteRuleRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.dispatcher.Execute(c.Context(), id, "manual:api", req.Context)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

// PublishEvent fans a domain event out to every matching active rule.
func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req PublishEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.dispatcher.OnEvent(c.Context(), req.Event, req.Context)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event":      req.Event,
		"executions": executions,
	})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	executions, err := h.engine.ListExecutions(c.Context(), c.Query("rule_id"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if !h.engine.CancelExecution(id) {
		return notFound(c, "No in-flight execution with that ID")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":        id,
		"cancelled": true,
	})
}

func (h *APIHandlers) GetMetrics(c fiber.Ctx) error {
	topN := defaultTopRules

	if topStr := c.Query("top"); topStr != "" {
		parsed, err := strconv.Atoi(topStr)
		if err != nil {
			return badRequest(c, "Invalid top parameter: "+err.Error())
		}

		topN = parsed
	}

	ruleList, err := h.ruleService.List(c.Context(), rules.ListFilter{})
	if err != nil {
		return internalError(c, err)
	}

	executions, err := h.engine.ListExecutions(c.Context(), "")
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(metrics.Aggregate(ruleList, executions, topN))
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templateList, err := h.expander.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   templateList,
		"total_count": len(templateList),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.expander.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) ExpandTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req ExpandTemplateRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	rule, err := h.expander.Expand(c.Context(), id, req.Values)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Deskflow API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Deskflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
