package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/service"
	"domstyle-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type RuleHandler struct {
	service  *service.RuleService
	validate *validator.Validate
}

func NewRuleHandler(service *service.RuleService) *RuleHandler {
	return &RuleHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rule, err := h.service.Create(&req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSelector) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to create rule")
		return
	}

	response.Created(w, rule)
}

func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.List()
	if err != nil {
		response.InternalError(w, "Failed to list rules")
		return
	}

	response.Success(w, rules)
}

func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]
	if ruleID == "" {
		response.BadRequest(w, "Rule ID is required")
		return
	}

	rule, err := h.service.Get(ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			response.NotFound(w, "Rule not found")
			return
		}
		response.InternalError(w, "Failed to load rule")
		return
	}

	response.Success(w, rule)
}

func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]
	if ruleID == "" {
		response.BadRequest(w, "Rule ID is required")
		return
	}

	var req domain.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	rule, err := h.service.Update(ruleID, &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRuleNotFound):
			response.NotFound(w, "Rule not found")
		case errors.Is(err, domain.ErrInvalidSelector):
			response.BadRequest(w, err.Error())
		default:
			response.InternalError(w, "Failed to update rule")
		}
		return
	}

	response.Success(w, rule)
}

func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]
	if ruleID == "" {
		response.BadRequest(w, "Rule ID is required")
		return
	}

	if err := h.service.Delete(ruleID); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			response.NotFound(w, "Rule not found")
			return
		}
		response.InternalError(w, "Failed to delete rule")
		return
	}

	response.Success(w, map[string]string{"message": "Rule deleted"})
}

func (h *RuleHandler) Export(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.Export()
	if err != nil {
		response.InternalError(w, "Failed to export rules")
		return
	}

	response.Success(w, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

func (h *RuleHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules []*domain.CustomizationRule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if len(req.Rules) == 0 {
		response.BadRequest(w, "No rules to import")
		return
	}

	imported, skipped, err := h.service.Import(req.Rules)
	if err != nil {
		response.InternalError(w, "Failed to import rules")
		return
	}

	response.Success(w, map[string]interface{}{
		"imported": imported,
		"skipped":  skipped,
	})
}
