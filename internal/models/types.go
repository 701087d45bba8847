package models

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	game "github.com/CodeAndHammer/hearsay/internal/game"
	live "github.com/CodeAndHammer/hearsay/internal/live"
	observe "github.com/CodeAndHammer/hearsay/internal/observe"
	phrase "github.com/CodeAndHammer/hearsay/internal/phrase"
	phrasecache "github.com/CodeAndHammer/hearsay/internal/phrasecache"
	prompts "github.com/CodeAndHammer/hearsay/internal/prompts"
	speech "github.com/CodeAndHammer/hearsay/internal/speech"
	translate "github.com/CodeAndHammer/hearsay/internal/translate"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

// GameSession is one browser's game.
type GameSession struct {
	Game           *game.Controller
	LastAccessTime time.Time
}

// RateLimiterEntry represents a rate limiter entry for a client IP
type RateLimiterEntry struct {
	Limiter        *rate.Limiter
	LastAccessTime time.Time
}

type App struct {
	Strategies *prompts.Set
	Cache      *phrasecache.Cache
	Phrases    *phrase.Generator
	Translator *translate.Translator
	Speech     *speech.Service
	Metrics    *observe.Metrics
	Hub        *live.Hub
	GameConfig game.Config

	// NewScheduler, when set, gives each new game its own scheduler.
	NewScheduler func() game.Scheduler

	GameSessions map[string]*GameSession
	SessionMutex sync.RWMutex
	LimiterMap   map[string]*RateLimiterEntry
	LimiterMutex sync.RWMutex

	IsProduction   bool
	StartTime      time.Time
	CookieMaxAge   time.Duration
	StaticCacheAge time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	RateLimiterTTL time.Duration
	SessionTimeout time.Duration
}

// Strategy returns the named generation strategy or nil.
func (app *App) Strategy(name string) *prompts.Strategy {
	if app.Strategies == nil {
		return nil
	}
	s, _ := app.Strategies.Get(name)
	return s
}

// Limiter returns the rate limiter for a client key, creating it on first
// use. HTTP routes and socket messages from the same IP share one limiter.
func (app *App) Limiter(key string) *rate.Limiter {
	app.LimiterMutex.RLock()
	entry, ok := app.LimiterMap[key]
	app.LimiterMutex.RUnlock()
	if ok {
		app.LimiterMutex.Lock()
		if entry, ok = app.LimiterMap[key]; ok {
			entry.LastAccessTime = time.Now()
		}
		app.LimiterMutex.Unlock()
		if ok {
			return entry.Limiter
		}
	}

	app.LimiterMutex.Lock()
	defer app.LimiterMutex.Unlock()
	if entry, ok = app.LimiterMap[key]; ok {
		entry.LastAccessTime = time.Now()
		return entry.Limiter
	}

	if key == "" || key == "::1" {
		util.LogWarn("Rate limiter key is empty or loopback: %q", key)
	}
	rps := app.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), app.RateLimitBurst)
	app.LimiterMap[key] = &RateLimiterEntry{
		Limiter:        lim,
		LastAccessTime: time.Now(),
	}
	return lim
}
