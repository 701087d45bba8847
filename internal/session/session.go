package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	game "github.com/CodeAndHammer/hearsay/internal/game"
	models "github.com/CodeAndHammer/hearsay/internal/models"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

const CleanupInterval = 10 * time.Minute

func GetOrCreateSession(app *models.App, c *gin.Context) string {
	sessionID, err := c.Cookie(constants.SessionCookieName)
	if err != nil || len(sessionID) < 10 {
		sessionID = uuid.NewString()
		c.SetSameSite(http.SameSiteStrictMode)
		secure := app.IsProduction
		c.SetCookie(constants.SessionCookieName, sessionID, int(app.CookieMaxAge.Seconds()), "/", "", secure, true)
		util.LogInfo("Created new session: %s", sessionID)
	}
	return sessionID
}

// NewController builds a game whose snapshots are pushed to the session's
// open sockets.
func NewController(app *models.App, sessionID string) *game.Controller {
	opts := []game.Option{
		game.WithMetrics(app.Metrics),
		game.WithObserver(func(s game.Snapshot) {
			if app.Hub != nil {
				app.Hub.BroadcastState(sessionID, s)
			}
		}),
	}
	if app.Translator != nil {
		opts = append(opts, game.WithTranslator(app.Translator))
	}
	if app.NewScheduler != nil {
		opts = append(opts, game.WithScheduler(app.NewScheduler()))
	}
	return game.New(app.Phrases, app.GameConfig, opts...)
}

// GetGame returns the session's game, creating it and loading its first
// phrase when the session has none.
func GetGame(app *models.App, ctx context.Context, sessionID string) *game.Controller {
	app.SessionMutex.RLock()
	entry, exists := app.GameSessions[sessionID]
	app.SessionMutex.RUnlock()
	if exists {
		app.SessionMutex.Lock()
		entry.LastAccessTime = time.Now()
		app.SessionMutex.Unlock()
		return entry.Game
	}

	app.SessionMutex.Lock()
	if entry, exists = app.GameSessions[sessionID]; exists {
		entry.LastAccessTime = time.Now()
		app.SessionMutex.Unlock()
		return entry.Game
	}
	ctrl := NewController(app, sessionID)
	app.GameSessions[sessionID] = &models.GameSession{Game: ctrl, LastAccessTime: time.Now()}
	app.SessionMutex.Unlock()

	if app.Metrics != nil {
		app.Metrics.SessionOpened()
	}
	util.LogInfo(util.WithRequestID(ctx, "Creating new game for session: %s"), sessionID)
	if _, err := ctrl.Advance(ctx); err != nil {
		util.LogWarn(util.WithRequestID(ctx, "First phrase for session %s failed: %v"), sessionID, err)
	}
	return ctrl
}

// Lookup returns an existing game without creating one.
func Lookup(app *models.App, sessionID string) (*game.Controller, bool) {
	app.SessionMutex.RLock()
	defer app.SessionMutex.RUnlock()
	entry, ok := app.GameSessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.Game, true
}

func CleanupExpiredSessions(app *models.App) int {
	cutoff := time.Now().Add(-app.SessionTimeout)

	app.SessionMutex.Lock()
	expired := lo.PickBy(app.GameSessions, func(_ string, entry *models.GameSession) bool {
		return entry.LastAccessTime.Before(cutoff)
	})
	for sessionID := range expired {
		delete(app.GameSessions, sessionID)
	}
	app.SessionMutex.Unlock()

	for sessionID, entry := range expired {
		entry.Game.Close()
		if app.Hub != nil {
			app.Hub.CloseSession(sessionID)
		}
	}
	if len(expired) > 0 {
		if app.Metrics != nil {
			app.Metrics.SessionClosed(len(expired))
		}
		util.LogInfo("Cleaned up %d expired session%s", len(expired), util.Plural(len(expired)))
	}
	return len(expired)
}

// RunSessionCleanup sweeps idle sessions until ctx ends.
func RunSessionCleanup(ctx context.Context, app *models.App, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.LogInfo("Started session cleanup every %v", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			CleanupExpiredSessions(app)
		}
	}
}
