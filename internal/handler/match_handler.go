package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"domstyle-sync-server/internal/applier"
	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/matcher"
	"domstyle-sync-server/internal/service"
	"domstyle-sync-server/internal/websocket"
	"domstyle-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type MatchHandler struct {
	ruleService *service.RuleService
	wsManager   *websocket.Manager
	validate    *validator.Validate
}

func NewMatchHandler(ruleService *service.RuleService, wsManager *websocket.Manager) *MatchHandler {
	return &MatchHandler{
		ruleService: ruleService,
		wsManager:   wsManager,
		validate:    validator.New(),
	}
}

type matchedRule struct {
	Rule      *domain.CustomizationRule `json:"rule"`
	CSS       string                    `json:"css"`
	PseudoCSS string                    `json:"pseudo_css,omitempty"`
}

// Match returns the rules applying to a page context, in application order,
// with their compiled stylesheets.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var page domain.PageContext
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if err := h.validate.Struct(page); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rules, err := h.ruleService.List()
	if err != nil {
		response.InternalError(w, "Failed to load rules")
		return
	}

	applicable := matcher.SelectApplicable(rules, page)

	matched := make([]matchedRule, 0, len(applicable))
	for _, rule := range applicable {
		matched = append(matched, matchedRule{
			Rule:      rule,
			CSS:       applier.CompileCSS(rule),
			PseudoCSS: applier.CompilePseudoCSS(rule),
		})
	}

	response.Success(w, map[string]interface{}{
		"page_type": matcher.DetectPageType(page.URL),
		"matched":   matched,
		"count":     len(matched),
	})
}

type selectorTestRequest struct {
	Selector string `json:"selector" validate:"required"`
	Hostname string `json:"hostname"`
}

// TestSelector validates selector syntax and, when a page client for the
// hostname is connected, reports the live match count.
func (h *MatchHandler) TestSelector(w http.ResponseWriter, r *http.Request) {
	var req selectorTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := service.ValidateSelector(req.Selector); err != nil {
		response.Success(w, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	result := map[string]interface{}{"valid": true}

	if req.Hostname != "" {
		if client := h.wsManager.SessionForHost(req.Hostname); client != nil {
			count, err := client.Session.TestSelector(r.Context(), req.Selector)
			if err != nil {
				result["live_error"] = err.Error()
			} else {
				result["live_matches"] = count
			}
		}
	}

	response.Success(w, result)
}

type previewRequest struct {
	Hostname string                    `json:"hostname" validate:"required"`
	Rule     *domain.CustomizationRule `json:"rule" validate:"required"`
}

// Preview injects a transient style onto a connected page without saving
// the rule.
func (h *MatchHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if req.Rule.ID == "" {
		response.BadRequest(w, "Preview rule needs an id")
		return
	}
	if err := service.ValidateSelector(req.Rule.Selector); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	client := h.wsManager.SessionForHost(req.Hostname)
	if client == nil {
		response.NotFound(w, "No connected page for that hostname")
		return
	}

	if err := client.Session.Preview(r.Context(), req.Rule); err != nil {
		if errors.Is(err, domain.ErrInvalidSelector) {
			response.BadRequest(w, "Rule has no styles to preview")
			return
		}
		response.InternalError(w, "Failed to push preview")
		return
	}

	response.Success(w, map[string]string{
		"element_id": applier.PreviewElementID(req.Rule.ID),
	})
}

func (h *MatchHandler) RemovePreview(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]
	hostname := r.URL.Query().Get("hostname")
	if ruleID == "" || hostname == "" {
		response.BadRequest(w, "Rule ID and hostname are required")
		return
	}

	client := h.wsManager.SessionForHost(hostname)
	if client == nil {
		response.NotFound(w, "No connected page for that hostname")
		return
	}

	if err := client.Session.RemovePreview(r.Context(), ruleID); err != nil {
		response.InternalError(w, "Failed to remove preview")
		return
	}

	response.Success(w, map[string]string{"message": "Preview removed"})
}
