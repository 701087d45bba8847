package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	game "github.com/CodeAndHammer/hearsay/internal/game"
	models "github.com/CodeAndHammer/hearsay/internal/models"
	phrase "github.com/CodeAndHammer/hearsay/internal/phrase"
	prompts "github.com/CodeAndHammer/hearsay/internal/prompts"
	session "github.com/CodeAndHammer/hearsay/internal/session"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

const title = "Hearsay - Listen and Type"

type generatePhraseRequest struct {
	Level *int `json:"level"`
}

type textRequest struct {
	Text string `json:"text"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// bindOptionalJSON decodes the body into dst; an empty body leaves dst as is.
func bindOptionalJSON(c *gin.Context, dst any) error {
	err := json.NewDecoder(c.Request.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// csrfToken prefers the token issued on this request over the cookie sent
// with it.
func csrfToken(c *gin.Context) string {
	if token := c.GetString(constants.CSRFCookieName); token != "" {
		return token
	}
	token, _ := c.Cookie(constants.CSRFCookieName)
	return token
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": constants.ErrorCodeInvalidInput})
}

func GeneratePhraseHandler(app *models.App, c *gin.Context) {
	ctx := c.Request.Context()
	var req generatePhraseRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	name := prompts.StrategyWord
	level := 0
	if req.Level != nil {
		name = prompts.StrategyPhrase
		level = *req.Level
	}

	res, err := app.Phrases.Generate(ctx, phrase.Request{Strategy: app.Strategy(name), Level: level})
	if err != nil {
		util.LogError(util.WithRequestID(ctx, "Error generating phrase: %v"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate phrase"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phrase": res.Phrase})
}

func GenerateAudioHandler(app *models.App, c *gin.Context) {
	ctx := c.Request.Context()
	var req textRequest
	if err := bindOptionalJSON(c, &req); err != nil || req.Text == "" {
		badRequest(c, "Text is required")
		return
	}

	url, err := app.Speech.AudioURL(ctx, req.Text)
	if err != nil {
		util.LogError(util.WithRequestID(ctx, "Error generating audio: %v"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate audio"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audioUrl": url})
}

func TranslateHandler(app *models.App, c *gin.Context) {
	ctx := c.Request.Context()
	var req textRequest
	if err := bindOptionalJSON(c, &req); err != nil || req.Text == "" {
		badRequest(c, "Text is required")
		return
	}

	translation, err := app.Translator.Translate(ctx, req.Text)
	if err != nil {
		util.LogError(util.WithRequestID(ctx, "Error translating: %v"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to translate"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"translation": translation})
}

func HomeHandler(app *models.App, c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title":      title,
		"nameKey":    constants.PlayerNameKey,
		"csrf_token": csrfToken(c),
	})
}

func GamePageHandler(app *models.App, c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := session.GetOrCreateSession(app, c)
	ctrl := session.GetGame(app, ctx, sessionID)
	state := ctrl.Snapshot()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		util.LogWarn(util.WithRequestID(ctx, "Failed to encode initial state: %v"), err)
		stateJSON = []byte("{}")
	}
	c.HTML(http.StatusOK, "game.html", gin.H{
		"title":      title,
		"nameKey":    constants.PlayerNameKey,
		"game":       state,
		"stateJSON":  string(stateJSON),
		"csrf_token": csrfToken(c),
	})
}

// currentGame resolves the caller's game and applies the reported player
// name.
func currentGame(app *models.App, c *gin.Context) *game.Controller {
	sessionID := session.GetOrCreateSession(app, c)
	ctrl := session.GetGame(app, c.Request.Context(), sessionID)
	if name := c.GetHeader(constants.PlayerHeader); name != "" {
		ctrl.SetPlayer(name)
	}
	return ctrl
}

// respondGame writes the snapshot, or the reason the action was refused.
func respondGame(c *gin.Context, state game.Snapshot, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, state)
	case errors.Is(err, game.ErrNotPlaying):
		c.JSON(http.StatusConflict, gin.H{"error": "The round is not accepting answers", "code": constants.ErrorCodeNotPlaying, "state": state})
	case errors.Is(err, game.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Not allowed right now", "code": constants.ErrorCodeBusy, "state": state})
	case errors.Is(err, phrase.ErrGeneration):
		util.LogWarn(util.WithRequestID(c.Request.Context(), "Round degraded: %v"), err)
		c.JSON(http.StatusOK, state)
	default:
		util.LogError(util.WithRequestID(c.Request.Context(), "Game action failed: %v"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func GameStateHandler(app *models.App, c *gin.Context) {
	c.JSON(http.StatusOK, currentGame(app, c).Snapshot())
}

func PlayHandler(app *models.App, c *gin.Context) {
	state, err := currentGame(app, c).BeginPlayback()
	respondGame(c, state, err)
}

func PlayedHandler(app *models.App, c *gin.Context) {
	respondGame(c, currentGame(app, c).PlaybackEnded(), nil)
}

func AnswerHandler(app *models.App, c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Answer is required")
		return
	}
	ctrl := currentGame(app, c)
	state, err := ctrl.Submit(c.Request.Context(), req.Answer)
	if err == nil && state.Verdict != nil {
		util.LogInfo(util.WithRequestID(c.Request.Context(), "Answer graded %.2f (correct=%v)"), state.Verdict.Similarity, state.Verdict.Correct)
	}
	respondGame(c, state, err)
}

func HintHandler(app *models.App, c *gin.Context) {
	state, err := currentGame(app, c).Hint()
	respondGame(c, state, err)
}

func SkipHandler(app *models.App, c *gin.Context) {
	state, err := currentGame(app, c).Skip(c.Request.Context())
	respondGame(c, state, err)
}

func NewGameHandler(app *models.App, c *gin.Context) {
	state, err := currentGame(app, c).Restart(c.Request.Context())
	respondGame(c, state, err)
}

func HealthzHandler(app *models.App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(app.StartTime)

	app.SessionMutex.RLock()
	sessionCount := len(app.GameSessions)
	app.SessionMutex.RUnlock()

	app.LimiterMutex.RLock()
	limiterCount := len(app.LimiterMap)
	app.LimiterMutex.RUnlock()

	cacheStats := app.Cache.Stats()
	sockets := 0
	if app.Hub != nil {
		sockets = app.Hub.Total()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"env":             map[bool]string{true: "production", false: "development"}[app.IsProduction],
		"strategies":      app.Strategies.Names(),
		"cache_levels":    cacheStats.Levels,
		"cache_evictions": cacheStats.Evictions,
		"cache_resets":    cacheStats.Resets,
		"active_sessions": sessionCount,
		"active_sockets":  sockets,
		"active_limiters": limiterCount,
		"memory_alloc_mb": m.Alloc / 1024 / 1024,
		"memory_sys_mb":   m.Sys / 1024 / 1024,
		"memory_gc_count": m.NumGC,
		"uptime":          util.FormatUptime(uptime),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
