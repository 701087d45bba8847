package constants

import "time"

type contextKey string

const (
	MinLevel       = 1
	MaxLevel       = 10
	PointsPerWin   = 10
	LevelUpScore   = 100
	PhraseCacheCap = 50
	MaxAttempts    = 3
)

const (
	DefaultRoundDuration = 30 * time.Second
	DefaultTimeoutReveal = 3 * time.Second
	DefaultHintReveal    = 5 * time.Second
	DefaultCorrectReveal = 2 * time.Second
	TickInterval         = time.Second
)

const (
	SimilarityExact     = 1.0
	SimilaritySubstring = 0.8
	AcceptThreshold     = 0.7
	NearMissThreshold   = 0.85
)

const (
	SpeechBaseRate      = 0.8
	SpeechRateIncrement = 0.1
	SpeechLang          = "en-US"
	SpeechModeDevice    = "device"
	SpeechModeServer    = "server"
)

const (
	SessionCookieName = "session_id"
	CSRFCookieName    = "csrf_token"
	PlayerNameKey     = "hearsay.playerName"
	PlayerHeader      = "X-Player-Name"
	MaxPlayerNameLen  = 40
)

const (
	RouteHome           = "/"
	RouteGame           = "/game"
	RouteGameState      = "/game/state"
	RouteGamePlay       = "/game/play"
	RouteGamePlayed     = "/game/played"
	RouteGameAnswer     = "/game/answer"
	RouteGameHint       = "/game/hint"
	RouteGameSkip       = "/game/skip"
	RouteGameNew        = "/game/new"
	RouteGameWS         = "/game/ws"
	RouteGeneratePhrase = "/api/generatePhrase"
	RouteGenerateAudio  = "/api/generateAudio"
	RouteTranslate      = "/api/translate"
	RouteHealthz        = "/healthz"
	RouteMetrics        = "/metrics"
)

const (
	ErrorCodeNotPlaying   = "not_playing"
	ErrorCodeBusy         = "busy"
	ErrorCodeInvalidInput = "invalid_input"
	ErrorCodeRateLimited  = "rate_limited"
)

const (
	RequestIDKey contextKey = "request_id"
)
