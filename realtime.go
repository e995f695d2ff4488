package main

// Canal realtime: o front entra numa sala por tenant e recebe os
// eventos whatsapp.instance.*. A entrada na sala exige um ack do
// servidor antes de qualquer evento ser considerado entregue.

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventInstanceUpdated = "whatsapp.instance.updated"
	EventInstanceCreated = "whatsapp.instance.created"
	EventInstanceRemoved = "whatsapp.instance.removed"
	EventInstanceQR      = "whatsapp.instance.qr"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS já filtra na camada HTTP
}

// wsEvent é o par (type, payload) consumido pelo front.
type wsEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsEvent
	room string
}

// Hub mantém as salas por tenant.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*wsClient]bool
}

func newHub() *Hub {
	return &Hub{rooms: make(map[string]map[*wsClient]bool)}
}

// tenantRoom dá o nome da sala de um par org/flow.
func tenantRoom(orgID, flowID int64) string {
	return "tenant:" + strconv.FormatInt(orgID, 10) + ":" + strconv.FormatInt(flowID, 10)
}

func (h *Hub) join(room string, c *wsClient) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*wsClient]bool)
	}
	h.rooms[room][c] = true
	h.mu.Unlock()
}

func (h *Hub) leave(c *wsClient) {
	h.mu.Lock()
	if clients, ok := h.rooms[c.room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.room)
		}
	}
	h.mu.Unlock()
}

// Broadcast envia o evento para todos os clientes da sala. Cliente com
// buffer cheio é derrubado (consumidor lento não pode travar o hub).
func (h *Hub) Broadcast(room, eventType string, payload any) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	ev := wsEvent{Type: eventType, Payload: payload}
	for _, c := range clients {
		select {
		case c.send <- ev:
		default:
			// fechar a conexão (e não o canal) evita corrida entre
			// broadcasts concorrentes; os loops do cliente se encerram
			h.leave(c)
			_ = c.conn.Close()
		}
	}
}

// GET /api/ws — upgrade + handshake de sala:
//
//	cliente: {"type":"join","payload":{"orgId":1,"flowId":1}}
//	servidor: {"type":"joined","payload":{"room":"tenant:1:1"}}
func (app *App) handleWS(w http.ResponseWriter, r *http.Request) {
	orgID, flowID, err := app.tenantRequest(r)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}

	// primeiro frame tem que ser o join da sala do próprio tenant
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var join struct {
		Type string `json:"type"`
	}
	if _, raw, err := conn.ReadMessage(); err != nil || json.Unmarshal(raw, &join) != nil || join.Type != "join" {
		_ = conn.WriteJSON(wsEvent{Type: "error", Payload: map[string]string{"message": "expected join"}})
		_ = conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	room := tenantRoom(orgID, flowID)
	client := &wsClient{conn: conn, send: make(chan wsEvent, 32), room: room}
	app.Hub.join(room, client)

	// ack de entrada na sala
	if err := conn.WriteJSON(wsEvent{Type: "joined", Payload: map[string]string{"room": room}}); err != nil {
		app.Hub.leave(client)
		_ = conn.Close()
		return
	}

	go client.writeLoop()
	client.readLoop(app.Hub)
}

func (c *wsClient) writeLoop() {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop só drena frames de controle; o canal é unidirecional de
// eventos depois do join.
func (c *wsClient) readLoop(h *Hub) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
