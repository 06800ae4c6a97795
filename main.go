package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maildossier/config"
	"maildossier/dossier"
	"maildossier/gmail"
	"maildossier/handlers"
	"maildossier/handlers/api"
	"maildossier/handlers/web"
	"maildossier/middleware"
	"maildossier/storage"
	"maildossier/utils"
	"maildossier/views"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// secretOrRandom returns value, or a random key that only lives as long as
// the process when value is empty
func secretOrRandom(value, name string) string {
	if value != "" {
		return value
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		utils.Log.Error("Failed to generate %s: %v", name, err)
		os.Exit(1)
	}
	utils.Log.Warn("%s is not set; using a random key, sessions will not survive a restart", name)
	return hex.EncodeToString(buf)
}

func newEngine() *html.Engine {
	engine := html.NewFileSystem(views.Templates(), ".html")
	engine.AddFunc("t", func(l *i18n.Localizer, messageID string) string {
		return utils.T(l, messageID)
	})
	engine.AddFunc("formatDate", func(t time.Time) string {
		return t.Format("Jan 02, 2006 15:04")
	})
	return engine
}

func main() {
	utils.Log.Info("Initializing Mail Dossier...")

	cfg, err := config.LoadConfig("config.toml")
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	utils.Log.SetLevel(utils.ParseLogLevel(cfg.Server.LogLevel))

	if err := utils.InitI18n(views.FS); err != nil {
		utils.Log.Error("Failed to initialize i18n: %v", err)
	}

	cfg.Session.Secret = secretOrRandom(cfg.Session.Secret, "SESSION_SECRET")
	cfg.Session.EncryptionKey = secretOrRandom(cfg.Session.EncryptionKey, "ENCRYPTION_KEY")

	sealer, err := utils.NewSealer(cfg.Session.EncryptionKey)
	if err != nil {
		utils.Log.Error("Failed to initialize token sealing: %v", err)
		os.Exit(1)
	}

	oauth, err := gmail.NewOAuth(cfg.Google.ClientSecretsFile, cfg.Google.RedirectURL)
	if err != nil {
		utils.Log.Error("Failed to load Google client secrets: %v", err)
		os.Exit(1)
	}

	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		utils.Log.Error("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	sessions := storage.NewSessionStorage(db, cfg.Session.GCInterval)
	defer sessions.Close()

	store := session.New(session.Config{
		Storage:        sessions,
		Expiration:     cfg.Session.Expiration,
		KeyLookup:      "cookie:" + cfg.Session.CookieName,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := utils.NewMemoryCache()
	go cache.Run(ctx, time.Minute)

	hub := api.NewProgressHub()
	history := storage.NewDossierStorage(db)
	service := dossier.NewServiceFromConfig(cfg, dossier.WithStore(history))
	if !cfg.LLMConfigured() {
		utils.Log.Warn("Azure OpenAI is not configured; analysis and dossier routes will fail")
	}

	mailOpener := api.GmailOpener(oauth, sealer)
	mailboxes := api.NewMailboxes(store, mailOpener, cache, cfg.Search.ThreadCacheTTL, hub)

	app := fiber.New(fiber.Config{
		Views:        newEngine(),
		ViewsLayout:  "layouts/main",
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: handlers.ErrorHandler,
		// dossier generation waits on two model calls
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New(compress.Config{
		// event streams must not be buffered
		Next: func(c *fiber.Ctx) bool { return c.Path() == "/api/events" },
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'; style-src 'self' 'unsafe-inline';",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept",
	}))
	app.Use(middleware.LocaleMiddleware())
	app.Use(middleware.RateLimiter(cfg.Server.RateLimit, time.Minute, middleware.KeyByIP))

	authHandler := api.NewAuthHandler(store, cfg, oauth, sealer, mailOpener)
	threadHandler := api.NewThreadHandler(service, mailboxes)
	dossierHandler := api.NewDossierHandler(service, mailboxes, history)
	debugHandler := api.NewDebugHandler(service, mailboxes)
	i18nHandler := &api.I18nHandler{}
	webDossierHandler := web.NewDossierHandler(history)

	requireAuth := middleware.RequireAuth(store)
	llmLimit := middleware.RateLimiter(cfg.Server.LLMRateLimit, time.Minute, middleware.KeyByUser)

	// Public routes
	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	app.Get("/api/i18n/:lang", i18nHandler.GetTranslations)

	auth := app.Group("/api/auth")
	{
		auth.Post("/login", authHandler.Login)
		auth.Get("/callback", authHandler.Callback)
		auth.Get("/status", authHandler.Status)
		auth.Post("/logout", authHandler.Logout)
		auth.Get("/profile", requireAuth, authHandler.Profile)
	}

	// Protected API routes
	apiRoutes := app.Group("/api", requireAuth)
	{
		apiRoutes.Post("/find_threads", llmLimit, threadHandler.FindThreads)
		apiRoutes.Post("/analyze_thread", llmLimit, threadHandler.AnalyzeThread)
		apiRoutes.Post("/process_threads_metadata", threadHandler.ProcessMetadata)
		apiRoutes.Post("/analyze_multiple_threads", llmLimit, threadHandler.AnalyzeMultipleThreads)

		apiRoutes.Post("/generate_meeting_dossier", llmLimit, dossierHandler.GenerateMeeting)
		apiRoutes.Post("/generate_client_dossier", llmLimit, dossierHandler.GenerateClient)
		apiRoutes.Post("/generate_dossier", llmLimit, dossierHandler.Generate)
		apiRoutes.Post("/validate_client_name", dossierHandler.ValidateClientName)
		apiRoutes.Get("/dossiers", dossierHandler.List)
		apiRoutes.Get("/dossiers/:id", dossierHandler.Get)
		apiRoutes.Delete("/dossiers/:id", dossierHandler.Delete)

		apiRoutes.Post("/test_participant_extraction", debugHandler.ParticipantExtraction)
		apiRoutes.Post("/test_domain_client_extraction", debugHandler.DomainClientExtraction)
		apiRoutes.Post("/test_relevancy", debugHandler.Relevancy)
		apiRoutes.Post("/azure_ask", llmLimit, debugHandler.Ask)

		apiRoutes.Get("/events", hub.HandleSSE)
	}

	app.Get("/ws/events", requireAuth, api.UpgradeWebSocket, websocket.New(hub.HandleWebSocket))

	// Web routes
	pages := app.Group("/dossiers", requireAuth)
	{
		pages.Get("/", webDossierHandler.HandleList)
		pages.Get("/:id", webDossierHandler.HandleView)
	}

	// 404 Handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		return utils.NotFoundError(utils.T(middleware.Localizer(c), "error_404"), nil)
	})

	go func() {
		<-ctx.Done()
		utils.Log.Info("Shutting down...")
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			utils.Log.Error("Shutdown error: %v", err)
		}
	}()

	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		utils.Log.Error("Error starting server: %v", err)
	}
}
