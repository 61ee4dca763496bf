package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"inkdown-notes/internal/domain"
	"inkdown-notes/pkg/logger"

	"go.uber.org/zap"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

// Manager fans engine events out to every connected UI client and routes
// inbound messages to a MessageHandler on its own loop.
type Manager struct {
	clients      map[string]*Client
	clientsMutex sync.RWMutex

	register      chan *Client
	unregisterCh  chan *Client
	handleMessage chan *ClientMessage
	done          chan struct{}
	closeOnce     sync.Once

	maxClients     int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
	log            *zap.Logger
}

func NewManager(maxClients int, writeWait, pongWait, pingPeriod time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregisterCh:   make(chan *Client),
		handleMessage:  make(chan *ClientMessage),
		done:           make(chan struct{}),
		maxClients:     maxClients,
		maxMessageSize: 64 * 1024,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		log:            logger.OrNop(log),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves registrations and inbound messages until ctx is cancelled,
// then closes every client.
func (m *Manager) Run(ctx context.Context) {
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-m.register:
			m.registerClient(client)

		case client := <-m.unregisterCh:
			m.unregisterClient(client)

		case clientMsg := <-m.handleMessage:
			m.processMessage(clientMsg)
		}
	}
}

// Register hands client to the run loop. It reports false once the
// manager has stopped.
func (m *Manager) Register(client *Client) bool {
	select {
	case m.register <- client:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) unregister(client *Client) {
	select {
	case m.unregisterCh <- client:
	case <-m.done:
	}
}

func (m *Manager) dispatch(msg *ClientMessage) bool {
	select {
	case m.handleMessage <- msg:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) shutdown() {
	m.closeOnce.Do(func() { close(m.done) })

	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.maxClients > 0 && len(m.clients) >= m.maxClients {
		m.log.Warn("max websocket clients reached", zap.Int("max", m.maxClients))
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.log.Debug("client registered", zap.String("client_id", client.ID))
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		close(client.Send)
		m.log.Debug("client unregistered", zap.String("client_id", client.ID))
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.log.Warn("malformed websocket message", zap.String("client_id", clientMsg.Client.ID), zap.Error(err))
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			m.log.Warn("websocket message failed", zap.String("type", string(msg.Type)), zap.Error(err))
			reply, encErr := NewMessage(TypeError, &AckPayload{MessageID: msg.ID, Error: err.Error()})
			if encErr == nil {
				m.SendToClient(clientMsg.Client, reply)
			}
		}
	}
}

// Publish broadcasts an engine event. It never blocks; clients whose send
// buffer is full are dropped.
func (m *Manager) Publish(event domain.Event) {
	msg, err := FromEvent(event)
	if err != nil {
		m.log.Error("failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}
	if err := m.Broadcast(msg); err != nil {
		m.log.Error("failed to broadcast event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (m *Manager) Broadcast(message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var slow []*Client
	m.clientsMutex.RLock()
	for clientID, client := range m.clients {
		select {
		case client.Send <- messageBytes:
		default:
			m.log.Warn("client send buffer full, closing connection", zap.String("client_id", clientID))
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range slow {
		go m.unregister(client)
	}
	return nil
}

func (m *Manager) SendToClient(client *Client, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if _, ok := m.clients[client.ID]; !ok {
		return nil
	}
	select {
	case client.Send <- messageBytes:
	default:
		m.log.Warn("client send buffer full", zap.String("client_id", client.ID))
	}
	return nil
}

func (m *Manager) ClientCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}
