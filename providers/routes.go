package providers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	"github.com/orchestra-mcp/chatrelay/src/auth"
	"github.com/orchestra-mcp/chatrelay/src/errs"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// RegisterRoutes registers the info routes via Fiber.
// The actual WebSocket upgrade uses FastHTTPHandler, registered
// at the server level since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *SocketProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/healthz", p.handleHealth)
	group.Get("/ws/info", p.handleInfo)
	group.Get("/ws/presence/:id", p.handlePresence)
	group.Get("/ws/rooms", p.handleRooms)
	group.Get("/ws/online", p.handleOnline)
	group.Get("/ws/clients", p.handleClients)
	group.Get("/ws/clients/:id", p.handleClient)
	group.Post("/ws/notify/:id", p.handleNotify)
}

func (p *SocketProvider) handleHealth(c fiber.Ctx) error {
	if !p.IsActive() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "inactive", "version": p.Version()})
	}
	return c.JSON(fiber.Map{"status": "ok", "version": p.Version()})
}

func (p *SocketProvider) handleInfo(c fiber.Ctx) error {
	info := p.service.Info()
	return c.JSON(fiber.Map{
		"websocket":    true,
		"endpoint":     "/ws",
		"clients":      info.Clients,
		"online_users": info.OnlineUsers,
		"rooms":        info.Rooms,
	})
}

func (p *SocketProvider) handlePresence(c fiber.Ctx) error {
	return c.JSON(p.service.Presence(types.ParseUserID(c.Params("id"))))
}

func (p *SocketProvider) handleRooms(c fiber.Ctx) error {
	return c.JSON(p.service.GetRooms())
}

func (p *SocketProvider) handleOnline(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"users": p.service.OnlineUsers()})
}

func (p *SocketProvider) handleClients(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"clients": p.service.ListClients()})
}

func (p *SocketProvider) handleClient(c fiber.Ctx) error {
	info, err := p.service.GetClientInfo(c.Params("id"))
	if errors.Is(err, service.ErrClientNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "client not found",
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(info)
}

type notifyRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (p *SocketProvider) handleNotify(c fiber.Ctx) error {
	var req notifyRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   string(errs.KindValidation),
			"message": "event is required",
		})
	}
	if err := p.service.Notify(types.ParseUserID(c.Params("id")), req.Event, req.Data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   string(errs.KindValidation),
			"message": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Register this on the fasthttp server at the "/ws" path.
func (p *SocketProvider) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		token := requestToken(ctx)
		h := p.hub
		base := p.ctx
		logger := p.logger

		err := p.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			wc := newFastHTTPConn(conn, p.cfg.WriteTimeout, p.cfg.PongWait(), p.cfg.MaxMessageBytes)
			if err := h.Serve(base, wc, token); err != nil && errs.KindOf(err) != errs.KindAuthentication {
				logger.Debug().Err(err).Msg("connection ended")
			}
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// requestToken reads the bearer token from the token query parameter or the
// Authorization header, in that order.
func requestToken(ctx *fasthttp.RequestCtx) string {
	if t := string(ctx.QueryArgs().Peek("token")); t != "" {
		return t
	}
	return auth.BearerToken(string(ctx.Request.Header.Peek("Authorization")))
}
