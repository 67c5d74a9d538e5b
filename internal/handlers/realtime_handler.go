package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/apperr"
	"github.com/clockframe/clockframe/internal/middleware"
	"github.com/clockframe/clockframe/internal/realtime"
	"github.com/clockframe/clockframe/internal/services"
)

// RealtimeHandler implements the channel described in 4.F: a WebSocket
// upgrade at /socket for hosts that allow it, and a GET /poll + POST /send
// pair for hosts whose embedding iframe sandbox blocks upgraded transports
// entirely. Both transports funnel into the same dispatch() so the timer
// state machine never has to know which one delivered a command.
type RealtimeHandler struct {
	hub    *realtime.Hub
	auth   *services.AuthService
	timers *services.TimerService
	log    zerolog.Logger

	pollMu  sync.Mutex
	pollSub map[string]*realtime.Subscription
}

func NewRealtimeHandler(hub *realtime.Hub, auth *services.AuthService, timers *services.TimerService, log zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:     hub,
		auth:    auth,
		timers:  timers,
		log:     log,
		pollSub: make(map[string]*realtime.Subscription),
	}
}

// UpgradeCheck gates /socket to WebSocket requests and resolves the
// one-time ticket into a user/session pair before the upgrade completes.
func (h *RealtimeHandler) UpgradeCheck(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return apperr.New(apperr.CodeValidationError, "expected a websocket upgrade")
	}

	ticket, err := h.auth.ValidateWebSocketTicket(c.Context(), c.Query("ticket"))
	if err != nil {
		return apperr.New(apperr.CodeTokenInvalid, "invalid or expired websocket ticket")
	}

	c.Locals("wsUserID", ticket.UserID)
	c.Locals("wsSessionID", ticket.SessionID)
	return c.Next()
}

// HandleConnection services one live WebSocket channel: a write pump
// forwards Hub events, a read pump decodes inbound Command frames and
// dispatches them to the timer state machine.
func (h *RealtimeHandler) HandleConnection(c *websocket.Conn) {
	userID, ok := c.Locals("wsUserID").(uuid.UUID)
	if !ok {
		c.Close()
		return
	}
	sessionID, _ := c.Locals("wsSessionID").(string)

	sub := h.hub.Register(userID, sessionID, "ws")
	defer h.hub.Unregister(sub)

	go h.writePump(c, sub)
	h.readPump(c, sub, userID)
}

func (h *RealtimeHandler) writePump(c *websocket.Conn, sub *realtime.Subscription) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Send:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-sub.Closed():
			return
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *RealtimeHandler) readPump(c *websocket.Conn, sub *realtime.Subscription, userID uuid.UUID) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			return
		}

		var cmd realtime.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.log.Warn().Err(err).Msg("failed to decode realtime command")
			continue
		}
		if err := h.dispatch(context.Background(), userID, cmd); err != nil {
			h.hub.Publish(userID, realtime.EventTimerError, fiber.Map{"message": err.Error()})
		}
	}
}

// dispatch applies one inbound Command to the timer state machine, whether
// it arrived over the WebSocket channel or POST /send. Start, stop and pause
// rely on the events TimerService publishes; only timer:sync publishes
// timer:state here. internal/realtime decodes nothing itself —
// handlers owns the mapping from Command to service call so the Hub stays
// free of a services dependency, per §9.
func (h *RealtimeHandler) dispatch(ctx context.Context, userID uuid.UUID, cmd realtime.Command) error {
	switch cmd.Type {
	case realtime.CommandTimerStart:
		var payload realtime.TimerStartPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return err
		}
		_, err := h.timers.Start(ctx, userID, payload.ProjectID, payload.Description)
		if err != nil {
			return err
		}

	case realtime.CommandTimerStop:
		var payload realtime.TimerStopPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return err
		}
		if _, err := h.timers.Stop(ctx, userID, payload.EndTime, false); err != nil {
			return err
		}

	case realtime.CommandTimerPause:
		var payload realtime.TimerStopPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return err
		}
		if _, err := h.timers.Stop(ctx, userID, payload.EndTime, true); err != nil {
			return err
		}

	case realtime.CommandTimerSync:
		state, err := h.timers.State(ctx, userID)
		if err != nil {
			return err
		}
		h.hub.Publish(userID, realtime.EventTimerState, state)

	case realtime.CommandIframeVisibility:
		// No server-side effect: the embedding host's visibility signal only
		// matters to client-side throttling of its own polling cadence.

	default:
		return apperr.New(apperr.CodeValidationError, "unknown command type: "+string(cmd.Type))
	}
	return nil
}

// Poll implements GET /poll: drains any events buffered for the caller's
// poll subscription, creating one on first contact.
func (h *RealtimeHandler) Poll(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	sessionID := middleware.GetSessionID(c)

	subID := c.Query("subscriptionId")

	h.pollMu.Lock()
	sub, ok := h.pollSub[subID]
	if !ok || sub.UserID != userID {
		sub = h.hub.Register(userID, sessionID, "poll")
		h.pollSub[sub.ID] = sub
	}
	h.pollMu.Unlock()

	events := h.hub.Drain(sub)
	return c.JSON(fiber.Map{
		"success":        true,
		"subscriptionId": sub.ID,
		"events":         events,
	})
}

type sendRequest struct {
	SubscriptionID string          `json:"subscriptionId"`
	Command        json.RawMessage `json:"command"`
}

// Send implements POST /send: the polling-fallback path for delivering a
// Command the WebSocket transport would otherwise carry.
func (h *RealtimeHandler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body", nil)
	}

	var cmd realtime.Command
	if err := json.Unmarshal(req.Command, &cmd); err != nil {
		return apperr.Validation("invalid command", nil)
	}

	userID := middleware.GetUserID(c)
	if err := h.dispatch(c.Context(), userID, cmd); err != nil {
		return mapTimerError(err)
	}

	return c.JSON(fiber.Map{"success": true})
}
