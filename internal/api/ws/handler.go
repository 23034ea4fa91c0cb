// Package ws serves the event channel. A connection is tagged with a palette
// id, and optionally a terminal id, when it is opened; inbound events are
// routed to that palette or terminal session.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/orchestrator"
	"github.com/GriffinCanCode/termstack/internal/domain/palette"
	"github.com/GriffinCanCode/termstack/internal/domain/terminal"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termstack/internal/realtime"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the service binds to loopback by default
	},
}

// Sender delivers a reply to the connection that sent an event
type Sender interface {
	Send(msg types.Outbound) bool
}

// Metrics records connection activity
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, event string)
}

// Route is what a connection was tagged with, resolved
type Route struct {
	Palette *palette.Palette
	Session *terminal.Session
}

// Handler manages WebSocket connections
type Handler struct {
	orch    *orchestrator.Orchestrator
	hub     *realtime.Hub
	history *history.Store
	metrics Metrics
	tracer  *tracing.Tracer
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(orch *orchestrator.Orchestrator, hub *realtime.Hub, hist *history.Store, metrics Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hist == nil {
		hist = history.NewMemory()
	}
	return &Handler{
		orch:    orch,
		hub:     hub,
		history: hist,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

// HandleConnection upgrades GET /ws?palette=ID[&terminal=ID]
func (h *Handler) HandleConnection(c *gin.Context) {
	paletteID := c.Query("palette")
	terminalID := c.Query("terminal")
	if err := utils.ValidateID(paletteID, "palette", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, s, err := h.orch.Route(paletteID, terminalID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	route := Route{Palette: p, Session: s}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := realtime.NewClient(conn, h.logger)
	if s != nil {
		client.Subscribe([]string{realtime.TerminalTopic(paletteID, terminalID)})
	} else {
		client.Subscribe([]string{realtime.PaletteTopic(paletteID)})
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID())
	go client.WriteLoop()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	logger := h.logger.With(zap.String("conn", client.ID()), zap.String("palette", paletteID), zap.String("terminal", terminalID))
	logger.Info("Connection opened")

	h.reply(client, types.Outbound{Event: types.EventHello, Data: helloReply{Palette: paletteID, Terminal: terminalID}})
	if s != nil {
		h.reply(client, types.Outbound{Event: types.EventTerminalState, Data: s.State()})
	} else {
		h.reply(client, types.Outbound{Event: types.EventStackState, Data: p.RunningStates()})
	}

	ctx := context.WithoutCancel(c.Request.Context())
	err = client.ReadLoop(func(frame []byte) {
		h.Dispatch(ctx, route, client, frame)
	})
	if err != nil {
		logger.Debug("Connection closed unexpectedly", zap.Error(err))
	}
	logger.Info("Connection closed")
}

// Dispatch decodes one inbound frame and applies it. Failures are reported
// to the sender as error events.
func (h *Handler) Dispatch(ctx context.Context, route Route, client Sender, frame []byte) {
	if err := utils.ValidateFrame(frame); err != nil {
		h.fail(client, "", err)
		return
	}

	var env types.Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		h.fail(client, "", fmt.Errorf("malformed frame: %w", err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("in", env.Event)
	}

	var span *tracing.Span
	if h.tracer != nil {
		span, _ = h.tracer.StartSpan(ctx, "ws."+env.Event)
		span.SetTag("palette", route.Palette.ID())
		defer h.tracer.Submit(span)
	}
	defer func() {
		if r := recover(); r != nil {
			if span != nil {
				span.SetError(fmt.Errorf("panic: %v", r))
			}
			h.logger.Error("Event handler panicked", zap.String("event", env.Event), zap.Any("panic", r))
			h.fail(client, env.Event, errors.New("internal error"))
		}
	}()

	var err error
	if route.Session != nil {
		err = h.terminalEvent(route.Palette, route.Session, client, env)
	} else {
		err = h.paletteEvent(route.Palette, client, env)
	}
	if err != nil {
		h.fail(client, env.Event, err)
	}
}

func (h *Handler) reply(client Sender, msg types.Outbound) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", msg.Event)
	}
	client.Send(msg)
}

func (h *Handler) fail(client Sender, event string, err error) {
	h.logger.Debug("Event rejected", zap.String("event", event), zap.Error(err))
	h.reply(client, types.Outbound{Event: types.EventError, Data: errorReply{Event: event, Message: err.Error()}})
}

func decode(env types.Envelope, into interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s requires data", env.Event)
	}
	if err := sonic.Unmarshal(env.Data, into); err != nil {
		return fmt.Errorf("invalid %s data: %w", env.Event, err)
	}
	return nil
}
