// Package gateway is the websocket edge: it owns connections, decodes the
// event protocol, and relays between clients and the session layer. It keeps
// no game state of its own.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/jykim-dev/chesslink/internal/board"
	"github.com/jykim-dev/chesslink/internal/engine"
	"github.com/jykim-dev/chesslink/internal/obslog"
	"github.com/jykim-dev/chesslink/internal/session"
)

const (
	pingInterval  = 15 * time.Second
	sendQueueSize = 64
)

// conn is one live websocket client.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	platform string
}

func (c *conn) setPlatform(p string) {
	c.mu.Lock()
	c.platform = p
	c.mu.Unlock()
}

func (c *conn) getPlatform() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platform
}

// enqueue drops the frame if the client's queue is full; a slow reader must
// not stall the server.
func (c *conn) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

// Gateway accepts websocket connections and dispatches their events to the
// lifecycle manager, the move coordinator, and the engine broker.
type Gateway struct {
	life   *session.Lifecycle
	coord  *session.Coordinator
	reg    *session.Registry
	broker *engine.Broker

	allowOrigins map[string]bool

	mu    sync.RWMutex
	conns map[string]*conn
}

func New(life *session.Lifecycle, coord *session.Coordinator, reg *session.Registry, broker *engine.Broker, allowedOrigins []string) *Gateway {
	allow := map[string]bool{}
	for _, o := range allowedOrigins {
		if o != "" {
			allow[o] = true
		}
	}
	return &Gateway{
		life:         life,
		coord:        coord,
		reg:          reg,
		broker:       broker,
		allowOrigins: allow,
		conns:        map[string]*conn{},
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if len(g.allowOrigins) > 0 && origin != "" && !g.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		obslog.L().Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &conn{id: uuid.NewString(), ws: ws, send: make(chan []byte, sendQueueSize)}

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	obslog.L().Info("client connected", zap.String("conn_id", c.id))

	ctx := r.Context()
	go g.writeLoop(ctx, c)
	g.readLoop(ctx, c)
	g.drop(c)
}

func (g *Gateway) writeLoop(ctx context.Context, c *conn) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.ws.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(c, "malformed message")
			continue
		}
		g.dispatch(ctx, c, env)
	}
}

// drop unhooks the connection and starts the disconnect grace flow. The
// opponent is told immediately; the session itself survives until the grace
// timer fires with nobody rebound.
func (g *Gateway) drop(c *conn) {
	// send stays open: a late engine reply may still enqueue into it, and
	// the writer exits on context cancellation anyway.
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()

	if info, ok := g.life.HandleDisconnect(c.id); ok {
		g.sendToSession(info.Code, c.id, "opponentDisconnected", struct{}{})
	}
	obslog.L().Info("client disconnected", zap.String("conn_id", c.id))
}

// sendTo queues an event for one connection.
func (g *Gateway) sendTo(c *conn, event string, data any) {
	b, err := encodeEvent(event, data)
	if err != nil {
		obslog.L().Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(b)
}

func (g *Gateway) sendError(c *conn, message string) {
	g.sendTo(c, "error", errorPayload{Message: message})
}

// sendToSession queues an event for every session member except exceptID.
// Pass exceptID "" to reach everyone.
func (g *Gateway) sendToSession(code, exceptID, event string, data any) {
	b, err := encodeEvent(event, data)
	if err != nil {
		obslog.L().Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	members := g.reg.Members(code)
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range members {
		if id == exceptID {
			continue
		}
		if peer, ok := g.conns[id]; ok {
			peer.enqueue(b)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *conn, env Envelope) {
	switch env.Event {
	case "setPlatform":
		var p setPlatformPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Platform == "" {
			g.sendError(c, "malformed setPlatform")
			return
		}
		c.setPlatform(p.Platform)

	case "createGame":
		info, err := g.life.CreateSession(ctx, c.id, c.getPlatform())
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendTo(c, "gameCreated", gameCreatedPayload{GameID: info.Code, Color: string(info.Color)})

	case "joinGame":
		var p joinGamePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.GameID == "" {
			g.sendError(c, "malformed joinGame")
			return
		}
		info, err := g.life.JoinSession(ctx, p.GameID, c.id, c.getPlatform())
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendTo(c, "gameJoined", gameJoinedPayload{
			GameID:           info.Code,
			Color:            string(info.Color),
			FEN:              info.FEN,
			OpponentPlatform: info.OpponentPlatform,
		})
		g.sendToSession(info.Code, c.id, "opponentJoined", opponentJoinedPayload{Platform: info.Platform})

	case "move":
		var p movePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.sendError(c, "malformed move")
			return
		}
		mv, ok := board.ParseUCI(p.From + p.To + p.Promotion)
		if !ok {
			g.sendError(c, session.ErrIllegalMove.Error())
			return
		}
		_, binding := g.reg.Resolve(c.id)
		if binding == nil {
			g.sendError(c, session.ErrNotFound.Error())
			return
		}
		out, err := g.coord.SubmitMove(binding.Code, c.id, mv)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendToSession(binding.Code, "", "moveMade", moveMadePayload{
			From:      mv.From,
			To:        mv.To,
			Promotion: mv.Promotion,
			FEN:       out.FEN,
		})
		if out.Terminal != nil {
			g.sendToSession(binding.Code, "", "gameOver", gameOverPayload{
				Result: string(out.Terminal.Result),
				Reason: out.Terminal.Reason,
			})
		}

	case "resign":
		end, err := g.life.Resign(c.id)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendToSession(end.Code, "", "gameOver", gameOverPayload{Result: string(end.Result), Reason: end.Reason})

	case "offerDraw":
		info, err := g.life.OfferDraw(c.id)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendToSession(info.Code, c.id, "drawOffered", drawPayload{From: string(info.From)})

	case "acceptDraw":
		end, err := g.life.AcceptDraw(c.id)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendToSession(end.Code, "", "gameOver", gameOverPayload{Result: string(end.Result), Reason: end.Reason})

	case "declineDraw":
		info, err := g.life.DeclineDraw(c.id)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		g.sendToSession(info.Code, c.id, "drawDeclined", drawPayload{From: string(info.From)})

	case "requestAIMove":
		var p requestAIMovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.FEN == "" {
			g.sendError(c, "malformed requestAIMove")
			return
		}
		// The broker call blocks until the engine answers or times out, so
		// run it off the read loop to keep the connection responsive.
		go func() {
			mv, err := g.broker.RequestMove(ctx, p.FEN)
			if err != nil {
				g.sendError(c, err.Error())
				return
			}
			g.sendTo(c, "aiMoveCalculated", aiMovePayload{Move: mv})
		}()

	case "stopEngine":
		g.broker.StopCurrent()

	default:
		g.sendError(c, "unknown event: "+env.Event)
	}
}

// Healthz is a liveness probe handler.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
