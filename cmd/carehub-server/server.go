package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/carehub/carehub/internal/config"
	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/domain/family"
	"github.com/carehub/carehub/internal/domain/inventory"
	"github.com/carehub/carehub/internal/domain/suggest"
	"github.com/carehub/carehub/internal/platform/auth"
	"github.com/carehub/carehub/internal/platform/db"
	"github.com/carehub/carehub/internal/platform/mail"
	"github.com/carehub/carehub/internal/platform/middleware"
	"github.com/carehub/carehub/internal/platform/websocket"
)

const (
	requestTimeout = 30 * time.Second
	bodyLimit      = "2M"
)

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	mailer, err := mail.NewSESMailer(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, logger)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}
	if !mailer.Enabled() {
		logger.Warn().Msg("SES_FROM_EMAIL not set, invitation emails will only be logged")
	}

	var verifier *auth.Verifier
	if cfg.AuthSigningKey != "" || cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
		verifier, err = auth.NewVerifier(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
		if err != nil {
			return fmt.Errorf("init token verifier: %w", err)
		}
	}

	e := newServer(cfg, pool, verifier, mailer, logger)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newServer wires middleware, engines and routes.
func newServer(cfg *config.Config, pool *pgxpool.Pool, verifier *auth.Verifier, mailer family.Mailer, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.ActorIDHeader},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api/v1")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(verifier, auth.AuthSkipper))
	} else {
		api.Use(auth.JWTMiddleware(verifier, auth.AuthSkipper))
	}
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	api.Use(middleware.RequestTimeout(requestTimeout))
	api.Use(db.ConnMiddleware(pool))

	engine := access.NewEngine(access.NewStore(pool), logger)
	access.NewHandler(engine).RegisterRoutes(api)

	hub := websocket.NewHub(logger)
	topicAuthz := shoppingTopicAuthorizer(engine)
	hub.SetPublishAuthorizer(topicAuthz)
	websocket.NewHandler(hub, topicAuthz, cfg.CORSOrigins).RegisterRoutes(api)

	inv := inventory.NewService(inventory.NewRepo(pool), logger)
	inv.SetEventPublisher(hub)
	inventory.NewHandler(inv, engine).RegisterRoutes(api)
	suggest.NewHandler(inv, engine).RegisterRoutes(api)

	fam := family.NewService(engine,
		family.NewPatientRepo(pool),
		family.NewInvitationRepo(pool),
		family.NewPreferencesRepo(pool),
		mailer,
		family.Options{InvitationTTL: cfg.InvitationTTL(), AppBaseURL: cfg.AppBaseURL},
		logger,
	)
	fam.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	})
	family.NewHandler(fam).RegisterRoutes(api)

	return e
}

type accountAuthorizer interface {
	AuthorizeAccount(ctx context.Context, actorID, accountID uuid.UUID, capability access.Capability) (*access.Decision, error)
}

// shoppingTopicAuthorizer lets an actor subscribe to an account topic only
// when they may view that household's shopping list.
func shoppingTopicAuthorizer(authz accountAuthorizer) websocket.TopicAuthorizer {
	return websocket.TopicAuthorizerFunc(func(ctx context.Context, actorID uuid.UUID, topic string) bool {
		accountID, ok := websocket.ParseAccountTopic(topic)
		if !ok {
			return false
		}
		d, err := authz.AuthorizeAccount(ctx, actorID, accountID, access.CapViewShoppingList)
		return err == nil && d != nil
	})
}
