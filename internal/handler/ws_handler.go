package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"device-sync-server/internal/service"
	"device-sync-server/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	upgrader ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection subscribes the client to one device, or to every device
// when device_id is "*" or missing.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("device_id")
	if topic == "" {
		topic = websocket.AllDevices
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), topic, conn, h.manager)
	if !client.Start() {
		conn.Close()
		return
	}

	log.Printf("[WebSocket] Client %s subscribed to %s", client.ID, topic)
}

var errTopicRequired = errors.New("device_id is required when subscribed to all devices")

type WebSocketMessageHandler struct {
	detector *service.ConflictDetector
}

func NewWebSocketMessageHandler(detector *service.ConflictDetector) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		detector: detector,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		return h.reply(client, websocket.TypePong, nil)

	case websocket.TypeListUnresolved:
		return h.handleListUnresolved(ctx, client, msg)

	default:
		log.Printf("[WebSocket] unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleListUnresolved(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.ListUnresolvedPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.reply(client, websocket.TypeError, &websocket.ErrorPayload{Error: "invalid payload"})
	}

	deviceID := payload.DeviceID
	if deviceID == "" {
		deviceID = client.Topic
	}
	if deviceID == websocket.AllDevices {
		return h.reply(client, websocket.TypeError, &websocket.ErrorPayload{Error: errTopicRequired.Error()})
	}

	conflicts, err := h.detector.GetUnresolvedConflicts(ctx, deviceID)
	if err != nil {
		h.reply(client, websocket.TypeError, &websocket.ErrorPayload{Error: "failed to list conflicts"})
		return err
	}

	return h.reply(client, websocket.TypeUnresolvedConflicts, &websocket.UnresolvedConflictsPayload{
		DeviceID:  deviceID,
		Conflicts: conflicts,
	})
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return client.Manager.SendToClient(client.ID, msg)
}
