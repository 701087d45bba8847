package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	game "github.com/CodeAndHammer/hearsay/internal/game"
	live "github.com/CodeAndHammer/hearsay/internal/live"
	models "github.com/CodeAndHammer/hearsay/internal/models"
	session "github.com/CodeAndHammer/hearsay/internal/session"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

const maxSocketMessage = 4096

// upgrader keeps gorilla's default same-origin check.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func GameSocketHandler(app *models.App, c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := session.GetOrCreateSession(app, c)
	ctrl := session.GetGame(app, ctx, sessionID)
	if name := c.Query("player"); name != "" {
		ctrl.SetPlayer(name)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarn(util.WithRequestID(ctx, "WebSocket upgrade failed: %v"), err)
		return
	}
	conn.SetReadLimit(maxSocketMessage)
	client := app.Hub.Add(sessionID, conn)
	util.LogInfo("ws connected session=%s remote=%s", sessionID, c.ClientIP())
	_ = app.Hub.Send(client, live.Envelope{Type: "state", State: ctrl.Snapshot()})

	go readSocket(app, sessionID, ctrl, client, conn, app.Limiter(c.ClientIP()))
}

func readSocket(app *models.App, sessionID string, ctrl *game.Controller, client *live.Client, conn *websocket.Conn, limiter *rate.Limiter) {
	defer app.Hub.Remove(sessionID, client)
	for {
		var msg live.Message
		if err := conn.ReadJSON(&msg); err != nil {
			util.LogInfo("ws disconnected session=%s error=%v", sessionID, err)
			return
		}
		if limited(msg) && !limiter.Allow() {
			_ = app.Hub.Send(client, socketError(ctrl.Snapshot(), errRateLimited))
			continue
		}
		state, err := dispatch(context.Background(), ctrl, msg)
		if err != nil {
			_ = app.Hub.Send(client, socketError(state, err))
		}
	}
}

// dispatch applies one page message to the game.
func dispatch(ctx context.Context, ctrl *game.Controller, msg live.Message) (game.Snapshot, error) {
	switch msg.Type {
	case live.MessagePlay:
		return ctrl.BeginPlayback()
	case live.MessagePlayed:
		return ctrl.PlaybackEnded(), nil
	case live.MessageAnswer:
		return ctrl.Submit(ctx, msg.Answer)
	case live.MessageHint:
		return ctrl.Hint()
	case live.MessageSkip:
		return ctrl.Skip(ctx)
	default:
		return ctrl.Snapshot(), errUnknownMessage
	}
}

var (
	errUnknownMessage = errors.New("unknown message type")
	errRateLimited    = errors.New("too many requests, please slow down")
)

// limited reports whether a message goes through the same limiter as its
// HTTP route.
func limited(msg live.Message) bool {
	switch msg.Type {
	case live.MessageAnswer, live.MessageHint, live.MessageSkip:
		return true
	}
	return false
}

func socketError(state game.Snapshot, err error) live.Envelope {
	env := live.Envelope{Type: "error", State: state, Error: err.Error()}
	switch {
	case errors.Is(err, game.ErrNotPlaying):
		env.Code = constants.ErrorCodeNotPlaying
	case errors.Is(err, game.ErrBusy):
		env.Code = constants.ErrorCodeBusy
	case errors.Is(err, errUnknownMessage):
		env.Code = constants.ErrorCodeInvalidInput
	case errors.Is(err, errRateLimited):
		env.Code = constants.ErrorCodeRateLimited
	default:
		// degraded load; the state already carries the message
		env.Type = "state"
		env.Error = ""
	}
	return env
}
