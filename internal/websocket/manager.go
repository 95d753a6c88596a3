package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"device-sync-server/internal/domain"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager tracks connected clients by topic and pushes sync events to them.
// Register, Unregister and HandleMessage are served by Run.
type Manager struct {
	clients         map[string]*Client
	topicIndex      map[string]map[string]bool
	clientsMutex    sync.RWMutex
	Register        chan *Client
	Unregister      chan *Client
	HandleMessage   chan *ClientMessage
	maxConnPerTopic int
	maxMessageSize  int64
	writeWait       time.Duration
	pongWait        time.Duration
	pingPeriod      time.Duration
	messageHandler  MessageHandler
	done            chan struct{}
}

type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, client *Client, msg *Message) error
}

type ManagerConfig struct {
	MaxConnPerTopic int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		clients:         make(map[string]*Client),
		topicIndex:      make(map[string]map[string]bool),
		Register:        make(chan *Client),
		Unregister:      make(chan *Client),
		HandleMessage:   make(chan *ClientMessage),
		maxConnPerTopic: cfg.MaxConnPerTopic,
		maxMessageSize:  cfg.MaxMessageSize,
		writeWait:       cfg.WriteWait,
		pongWait:        cfg.PongWait,
		pingPeriod:      cfg.PingPeriod,
		done:            make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves the manager channels until ctx is cancelled, then closes every
// client's send channel.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(ctx, clientMsg)

		case <-ctx.Done():
			close(m.done)
			m.closeAll()
			return
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.topicIndex[client.Topic] == nil {
		m.topicIndex[client.Topic] = make(map[string]bool)
	}

	if m.maxConnPerTopic > 0 && len(m.topicIndex[client.Topic]) >= m.maxConnPerTopic {
		log.Printf("[WebSocket] max connections reached for topic %s", client.Topic)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.topicIndex[client.Topic][client.ID] = true

	log.Printf("[WebSocket] client registered: %s (topic: %s)", client.ID, client.Topic)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.topicIndex[client.Topic], client.ID)

		if len(m.topicIndex[client.Topic]) == 0 {
			delete(m.topicIndex, client.Topic)
		}

		close(client.Send)
		log.Printf("[WebSocket] client unregistered: %s", client.ID)
	}
}

// register hands the client to Run. It reports false once the manager has
// stopped.
func (m *Manager) register(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
	m.topicIndex = make(map[string]map[string]bool)
}

func (m *Manager) processMessage(ctx context.Context, clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("[WebSocket] error unmarshaling message from %s: %v", clientMsg.Client.ID, err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(ctx, clientMsg.Client, &msg); err != nil {
			log.Printf("[WebSocket] error handling %s message: %v", msg.Type, err)
		}
	}
}

// Publish delivers a sync event to subscribers of the event's device and to
// AllDevices subscribers. Clients with a full buffer are dropped.
func (m *Manager) Publish(ctx context.Context, event *domain.SyncEvent) error {
	message, err := NewMessage(MessageType(event.Type), event)
	if err != nil {
		return err
	}
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var slow []*Client

	m.clientsMutex.RLock()
	for _, topic := range []string{event.DeviceID, AllDevices} {
		for clientID := range m.topicIndex[topic] {
			client := m.clients[clientID]
			select {
			case client.Send <- messageBytes:
			default:
				log.Printf("[WebSocket] client %s send buffer full, closing connection", clientID)
				slow = append(slow, client)
			}
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range slow {
		go m.unregister(client)
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("[WebSocket] client %s send buffer full", clientID)
	}

	return nil
}

func (m *Manager) TopicConnections(topic string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.topicIndex[topic])
}
