package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/fabula/collab"
	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/nodetype"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the deployment's reverse proxy
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Command is an inbound client frame
type Command struct {
	Type         string               `json:"type"`
	Ref          string               `json:"ref,omitempty"` // echoed on the error frame
	NodeID       string               `json:"node_id,omitempty"`
	ConnectionID string               `json:"connection_id,omitempty"`
	Kind         nodetype.Kind        `json:"kind,omitempty"`
	Payload      json.RawMessage      `json:"payload,omitempty"`
	Position     *flowstore.Position  `json:"position,omitempty"`
	SourceNodeID string               `json:"source_node_id,omitempty"`
	SourceSlot   string               `json:"source_slot,omitempty"`
	TargetNodeID string               `json:"target_node_id,omitempty"`
	TargetSlot   string               `json:"target_slot,omitempty"`
	Name         string               `json:"name,omitempty"`
	Viewport     *flowstore.Viewport  `json:"viewport,omitempty"`
	X            float64              `json:"x,omitempty"`
	Y            float64              `json:"y,omitempty"`
}

// errorFrame tells the client why a command failed
type errorFrame struct {
	Type  string `json:"type"`
	Ref   string `json:"ref,omitempty"`
	Class string `json:"class"`
	Error string `json:"error"`
}

// handleWebSocket joins the client to the flow's room, sends the snapshot,
// then runs the read and write pumps until either side closes
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("id")
	user := r.URL.Query().Get("user")
	if user == "" {
		user = "anonymous"
	}

	session, snapshot, err := s.hub.Join(r.Context(), flowID, user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Leave(session)
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		server:  s,
		session: session,
		conn:    conn,
		// Outbound frames beyond the broadcast stream (error frames)
		direct: make(chan []byte, 16),
	}

	snapshotFrame, err := json.Marshal(collab.Event{
		ID:      session.ID,
		Type:    collab.EventSnapshot,
		FlowID:  flowID,
		At:      time.Now(),
		Payload: mustMarshal(snapshot),
	})
	if err != nil {
		s.logger.Error("marshal snapshot", "error", err)
		s.hub.Leave(session)
		_ = conn.Close()
		return
	}

	// The snapshot is written before the write pump starts so it always
	// precedes every incremental event, including broadcasts already
	// buffered on the session during the upgrade
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, snapshotFrame); err != nil {
		s.hub.Leave(session)
		_ = conn.Close()
		return
	}

	go client.writePump()
	client.readPump(r.Context())
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("gateway: unmarshalable frame: " + err.Error())
	}
	return data
}

type wsClient struct {
	server  *Server
	session *collab.Session
	conn    *websocket.Conn
	direct  chan []byte
}

// writePump forwards broadcast events and direct frames to the socket,
// pinging to keep the connection alive. It exits when the session closes.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(messageType int, data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(messageType, data) == nil
	}

	for {
		select {
		case event, ok := <-c.session.Events():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "resync required"))
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				c.server.logger.Error("marshal event", "error", err)
				continue
			}
			if !write(websocket.TextMessage, data) {
				return
			}
		case data := <-c.direct:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// readPump decodes and dispatches inbound commands until the socket closes,
// then leaves the room
func (c *wsClient) readPump(ctx context.Context) {
	defer c.server.hub.Leave(c.session)

	c.conn.SetReadLimit(c.server.config.MaxRequestSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Warn("websocket read failed",
					"session_id", c.session.ID, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError("", errors.WrapInvalid(err, "wsClient", "readPump", "decode command"))
			continue
		}
		if err := c.dispatch(ctx, cmd); err != nil {
			c.sendError(cmd.Ref, err)
		}
	}
}

func (c *wsClient) dispatch(ctx context.Context, cmd Command) error {
	hub, session := c.server.hub, c.session

	switch cmd.Type {
	case "acquire_lock":
		_, err := hub.Acquire(ctx, session, cmd.NodeID)
		return err
	case "release_lock":
		return hub.Release(session, cmd.NodeID)
	case "heartbeat":
		return hub.Heartbeat(session, cmd.NodeID)
	case "update_node":
		_, err := hub.UpdateNodePayload(ctx, session, cmd.NodeID, cmd.Payload)
		return err
	case "create_node":
		params := flowstore.CreateNodeParams{Kind: cmd.Kind}
		if cmd.Position != nil {
			params.Position = *cmd.Position
		}
		_, err := hub.CreateNode(ctx, session, params)
		return err
	case "move_node":
		if cmd.Position == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"wsClient", "dispatch", "move_node requires position")
		}
		_, err := hub.MoveNode(ctx, session, cmd.NodeID, *cmd.Position)
		return err
	case "delete_node":
		return hub.DeleteNode(ctx, session, cmd.NodeID)
	case "create_connection":
		_, err := hub.CreateConnection(ctx, session, flowstore.CreateConnectionParams{
			SourceNodeID: cmd.SourceNodeID,
			SourceSlot:   cmd.SourceSlot,
			TargetNodeID: cmd.TargetNodeID,
			TargetSlot:   cmd.TargetSlot,
		})
		return err
	case "delete_connection":
		return hub.DeleteConnection(ctx, session, cmd.ConnectionID)
	case "rename_flow":
		_, err := hub.RenameFlow(ctx, session, cmd.Name)
		return err
	case "viewport":
		if cmd.Viewport == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"wsClient", "dispatch", "viewport command requires viewport")
		}
		_, err := hub.UpdateViewport(ctx, session, *cmd.Viewport)
		return err
	case "cursor":
		hub.Cursor(session, cmd.X, cmd.Y)
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"wsClient", "dispatch", "unknown command "+cmd.Type)
	}
}

// sendError queues an error frame; a full direct channel drops the frame
// rather than blocking the read pump
func (c *wsClient) sendError(ref string, err error) {
	frame := mustMarshal(errorFrame{
		Type:  "error",
		Ref:   ref,
		Class: classLabel(errors.Classify(err)),
		Error: err.Error(),
	})
	select {
	case c.direct <- frame:
	default:
		c.server.logger.Warn("dropping error frame, direct channel full",
			"session_id", c.session.ID)
	}
}
