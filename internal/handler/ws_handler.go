package handler

import (
	"net/http"
	"net/url"

	"domstyle-sync-server/internal/applier"
	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"
	"domstyle-sync-server/internal/matcher"
	"domstyle-sync-server/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	applier  *applier.Applier
	upgrader ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, app *applier.Applier) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		applier: app,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection upgrades a page client. The page describes itself via
// query parameters; its apply session starts as soon as the pumps are up.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		http.Error(w, "page url is required", http.StatusBadRequest)
		return
	}

	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Hostname() == "" {
		http.Error(w, "page url is not parseable", http.StatusBadRequest)
		return
	}

	queryParams := make(map[string]string)
	for key, values := range parsed.Query() {
		if len(values) > 0 {
			queryParams[key] = values[0]
		}
	}

	page := domain.PageContext{
		URL:         pageURL,
		Hostname:    parsed.Hostname(),
		QueryParams: queryParams,
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, page, conn, h.manager)
	client.Session = h.applier.NewSession(websocket.NewPageProxy(client))

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
	go client.Session.Start()

	logger.Log.Info("page session started",
		zap.String("client_id", clientID),
		zap.String("hostname", page.Hostname),
		zap.String("page_type", string(matcher.DetectPageType(page.URL))))
}

// WebSocketMessageHandler routes page-originated events into the client's
// apply session.
type WebSocketMessageHandler struct{}

func NewWebSocketMessageHandler() *WebSocketMessageHandler {
	return &WebSocketMessageHandler{}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeRegister:
		var payload websocket.RegisterPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Page.URL != "" {
			client.SetPageURL(payload.Page.URL)
		}

	case websocket.TypeMutation:
		var payload websocket.MutationPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if client.Session != nil {
			client.Session.NotifyMutation(payload.AddedNodes, payload.TextLength)
		}

	case websocket.TypeNavigation:
		var payload websocket.NavigationPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		client.SetPageURL(payload.URL)
		if client.Session != nil {
			client.Session.NotifyNavigation(payload.URL)
		}

	case websocket.TypeScriptResult:
		// Script pushes are one-way; failures come back as events.
		var payload websocket.ScriptResultPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if payload.Error != "" {
			logger.Log.Warn("customization script failed on page",
				zap.String("rule_id", payload.RuleID),
				zap.String("hostname", client.Hostname),
				zap.String("error", payload.Error))
		}

	case websocket.TypePing:
		pong, err := websocket.NewMessage(websocket.TypePong, nil)
		if err != nil {
			return err
		}
		return client.Push(pong)

	default:
		logger.Log.Debug("unhandled websocket message type",
			zap.String("type", string(msg.Type)))
	}

	return nil
}
