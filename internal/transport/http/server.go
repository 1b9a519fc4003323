package http

import (
	stdhttp "net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/auth"
	"github.com/vovakirdan/mindconnect-server/internal/config"
	"github.com/vovakirdan/mindconnect-server/internal/objectstore"
	"github.com/vovakirdan/mindconnect-server/internal/service/bookings"
	"github.com/vovakirdan/mindconnect-server/internal/service/calls"
	"github.com/vovakirdan/mindconnect-server/internal/service/chat"
	"github.com/vovakirdan/mindconnect-server/internal/service/consultants"
)

// Services bundles what the HTTP surface serves.
type Services struct {
	Auth        *auth.Service
	Calls       *calls.Service
	Chat        *chat.Service
	Bookings    *bookings.Service
	Consultants *consultants.Service
	Media       *objectstore.Store
}

// NewServer builds the HTTP server with all API routes.
func NewServer(svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(svc, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the API routes on a gin engine.
func NewRouter(svc Services, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	requireAuth := AuthMiddleware(svc.Auth, logger)
	optionalAuth := OptionalAuthMiddleware(svc.Auth, logger)

	apiHandlers := NewAPIHandlers(svc.Auth, logger)
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/signup", apiHandlers.SignUp)
		authGroup.POST("/login", apiHandlers.Login)
		authGroup.GET("/me", requireAuth, apiHandlers.Me)
	}

	bookingHandlers := NewBookingHandlers(svc.Bookings, logger)
	bookingGroup := router.Group("/api/bookings", optionalAuth)
	{
		bookingGroup.POST("", bookingHandlers.CreateBooking)
		bookingGroup.GET("", bookingHandlers.ListBookings)
		bookingGroup.GET("/reminders", bookingHandlers.ListReminders)
	}

	consultantHandlers := NewConsultantHandlers(svc.Consultants, svc.Media, logger)
	consultantGroup := router.Group("/api/consultants")
	{
		consultantGroup.POST("", consultantHandlers.CreateConsultant)
		consultantGroup.GET("", consultantHandlers.ListConsultants)
		consultantGroup.GET("/:id", consultantHandlers.GetConsultant)
		consultantGroup.PUT("/:id", consultantHandlers.UpdateConsultant)
		consultantGroup.DELETE("/:id", consultantHandlers.DeleteConsultant)
		consultantGroup.POST("/:id/image", consultantHandlers.UploadImage)
	}
	if svc.Media != nil {
		router.GET(mediaRoute(cfg.MediaBaseURL)+"/*key", consultantHandlers.ServeMedia)
	}

	wsHandler := NewWSHandler(svc.Calls, svc.Chat, cfg.ChatRateLimit, logger)

	callHandlers := NewCallsHandlers(svc.Calls, logger)
	callGroup := router.Group("/api/calls", requireAuth)
	{
		callGroup.POST("", callHandlers.CreateCall)
		callGroup.GET("/:id", callHandlers.GetCall)
		callGroup.PUT("/:id/offer", callHandlers.PublishOffer)
		callGroup.PUT("/:id/answer", callHandlers.PublishAnswer)
		callGroup.POST("/:id/candidates/:direction", callHandlers.AddCandidate)
		callGroup.GET("/:id/candidates/:direction", callHandlers.ListCandidates)
		callGroup.GET("/:id/ws", wsHandler.ServeCall)
	}

	chatHandlers := NewChatHandlers(svc.Chat, logger)
	chatGroup := router.Group("/api/chats", requireAuth)
	{
		chatGroup.POST("/:id/messages", chatHandlers.PostMessage)
		chatGroup.GET("/:id/messages", chatHandlers.ListMessages)
		chatGroup.GET("/:id/mood", chatHandlers.Mood)
		chatGroup.GET("/:id/suggestions", chatHandlers.Suggestions)
		chatGroup.GET("/:id/ws", wsHandler.ServeChat)
	}

	return router
}

// mediaRoute turns the public media URL into a local route prefix.
// Absolute URLs (a CDN in front of the server) keep their path.
func mediaRoute(baseURL string) string {
	route := baseURL
	if i := strings.Index(route, "://"); i >= 0 {
		route = route[i+3:]
		if j := strings.IndexByte(route, '/'); j >= 0 {
			route = route[j:]
		} else {
			route = ""
		}
	}
	route = "/" + strings.Trim(route, "/")
	if route == "/" {
		return "/media"
	}
	return route
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
