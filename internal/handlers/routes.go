package handlers

import (
	"html/template"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	models "github.com/CodeAndHammer/hearsay/internal/models"
)

func with(app *models.App, h func(*models.App, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) { h(app, c) }
}

// Register mounts every page, game and API route. limit guards the routes
// that spend provider calls, including the GETs that open a new session.
func Register(router gin.IRoutes, app *models.App, limit gin.HandlerFunc) {
	router.GET(constants.RouteHome, with(app, HomeHandler))
	router.GET(constants.RouteGame, limit, with(app, GamePageHandler))
	router.GET(constants.RouteGameState, limit, with(app, GameStateHandler))
	router.GET(constants.RouteGameWS, limit, with(app, GameSocketHandler))

	router.POST(constants.RouteGamePlay, with(app, PlayHandler))
	router.POST(constants.RouteGamePlayed, with(app, PlayedHandler))
	router.POST(constants.RouteGameAnswer, limit, with(app, AnswerHandler))
	router.POST(constants.RouteGameHint, limit, with(app, HintHandler))
	router.POST(constants.RouteGameSkip, limit, with(app, SkipHandler))
	router.POST(constants.RouteGameNew, limit, with(app, NewGameHandler))

	router.POST(constants.RouteGeneratePhrase, limit, with(app, GeneratePhraseHandler))
	router.POST(constants.RouteGenerateAudio, limit, with(app, GenerateAudioHandler))
	router.POST(constants.RouteTranslate, limit, with(app, TranslateHandler))

	router.GET(constants.RouteHealthz, with(app, HealthzHandler))
}

// LoadTemplates parses the page templates and their partials under baseDir.
func LoadTemplates(baseDir string) (*template.Template, error) {
	funcMap := template.FuncMap{
		"hasPrefix": strings.HasPrefix,
		"percent":   func(f float64) int { return int(f*100 + 0.5) },
	}
	rootPattern := filepath.ToSlash(filepath.Join(baseDir, "*.html"))
	partialsPattern := filepath.ToSlash(filepath.Join(baseDir, "partials", "*.html"))

	master := template.New("").Funcs(funcMap)
	if _, err := master.ParseGlob(rootPattern); err != nil {
		return nil, err
	}
	if _, err := master.ParseGlob(partialsPattern); err != nil {
		return nil, err
	}
	return master, nil
}
