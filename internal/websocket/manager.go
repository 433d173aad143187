package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"

	"go.uber.org/zap"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager owns the connected page clients, indexed by hostname so a runaway
// tab cannot exhaust the server.
type Manager struct {
	clients        map[string]*Client
	hostIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerHost int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	callTimeout    time.Duration
	messageHandler MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(maxConnPerHost int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		hostIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerHost: maxConnPerHost,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		callTimeout:    5 * time.Second,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.hostIndex[client.Hostname] == nil {
		m.hostIndex[client.Hostname] = make(map[string]bool)
	}

	if len(m.hostIndex[client.Hostname]) >= m.maxConnPerHost {
		logger.Log.Warn("max connections reached for host",
			zap.String("hostname", client.Hostname))
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.hostIndex[client.Hostname][client.ID] = true

	logger.Log.Info("page client registered",
		zap.String("client_id", client.ID),
		zap.String("hostname", client.Hostname),
		zap.String("url", client.PageContext().URL))
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.hostIndex[client.Hostname], client.ID)

		if len(m.hostIndex[client.Hostname]) == 0 {
			delete(m.hostIndex, client.Hostname)
		}

		close(client.Send)
		if client.Session != nil {
			go client.Session.Close()
		}
		logger.Log.Info("page client unregistered", zap.String("client_id", client.ID))
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		logger.Log.Warn("dropping unparseable websocket message", zap.Error(err))
		return
	}

	// Results answer an outstanding server query and bypass the handler.
	if msg.RequestID != "" && isResult(msg.Type) {
		if clientMsg.Client.resolve(&msg) {
			return
		}
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			logger.Log.Warn("websocket message handling failed",
				zap.String("type", string(msg.Type)),
				zap.Error(err))
		}
	}
}

// NotifyRulesUpdated implements the sync engine's notifier: every connected
// page gets the broadcast and its session reapplies.
func (m *Manager) NotifyRulesUpdated(result *domain.SyncResult) {
	payload := RulesUpdatedPayload{}
	if result != nil {
		payload.Backend = result.Backend
		payload.Direction = string(result.Direction)
	}
	msg, err := NewMessage(TypeRulesUpdated, payload)
	if err != nil {
		return
	}

	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.RUnlock()

	for _, client := range clients {
		_ = client.Push(msg)
		if client.Session != nil {
			client.Session.NotifyRulesChanged()
		}
	}
}

// SessionForHost returns any active session on the given hostname, for
// selector tests and previews targeting a live page.
func (m *Manager) SessionForHost(hostname string) *Client {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for id := range m.hostIndex[hostname] {
		if c := m.clients[id]; c != nil && c.Session != nil {
			return c
		}
	}
	return nil
}

func (m *Manager) GetHostConnections(hostname string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.hostIndex[hostname]; exists {
		return len(clients)
	}
	return 0
}
