package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/hhottdogg/community/internal/config"
	"github.com/hhottdogg/community/internal/handlers"
	"github.com/hhottdogg/community/internal/metrics"
	"github.com/hhottdogg/community/internal/middleware"
	"github.com/hhottdogg/community/internal/provider"
	"github.com/hhottdogg/community/internal/repository"
	"github.com/hhottdogg/community/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const serviceName = "community-gateway"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if !cfg.IsProduction() {
		logger.SetLevel(logrus.DebugLevel)
	}
	if cfg.UsedDevFallback {
		logger.WithFields(logrus.Fields{
			"user_pool_id": cfg.Cognito.UserPoolID,
			"client_id":    cfg.Cognito.ClientID,
		}).Warn("Cognito identifiers not configured, using development defaults")
	}

	ctx := context.Background()

	store, err := initStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize session store")
	}

	idp, err := initProvider(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize identity provider")
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	httpClient := &http.Client{Timeout: cfg.Server.RequestTimeout}

	// Initialize services
	sessions := repository.NewSessionRepository(store, cfg.Store.KeyPrefix, logger)
	tokenService := service.NewTokenService(sessions, logger)

	var resolver service.UsernameLookup
	if cfg.Services.UsernameLookupURL != "" {
		resolver = service.NewUsernameResolver(cfg.Services.UsernameLookupURL, httpClient, logger)
	}

	authService := service.NewAuthService(idp, sessions, resolver, collector, logger)
	apiService := service.NewAPIService(
		httpClient,
		tokenService,
		authService,
		service.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay},
		[]service.Endpoint{
			{Name: "user", URL: cfg.Services.UserURL},
			{Name: "post", URL: cfg.Services.PostURL},
			{Name: "comment", URL: cfg.Services.CommentURL},
		},
		collector,
		logger,
	)

	userService := service.NewUserService(apiService, cfg.Services.UserURL)
	postService := service.NewPostService(apiService, cfg.Services.PostURL)
	commentService := service.NewCommentService(apiService, cfg.Services.CommentURL)
	apiService.AddLogoutHook("user", userService.Logout)

	if state := authService.Restore(ctx); state == service.StateAuthenticated {
		logger.Info("Restored persisted session")
	}

	authHandlers := handlers.NewAuthHandlers(authService, apiService, tokenService, logger)
	contentHandlers := handlers.NewContentHandlers(postService, commentService, userService, logger)
	healthHandlers := handlers.NewHealthHandlers(apiService, serviceName, logger)

	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)
	loginLimiter := middleware.NewRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst, logger)

	router := setupRouter(cfg, authHandlers, contentHandlers, healthHandlers, authMiddleware, loginLimiter, registry, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func loadAWSConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	if endpoint == "" {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}

	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:           endpoint,
					SigningRegion: region,
				}, nil
			})),
	)
}

func initStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.KVStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis session store initialized")
		return repository.NewRedisStore(client, cfg.Store.TTL, logger), nil

	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB session store initialized")
		return repository.NewDynamoDBStore(client, cfg.DynamoDB.TableName, cfg.Store.KeyPrefix, cfg.Store.TTL, logger), nil

	default:
		logger.Info("In-memory session store initialized")
		return repository.NewMemoryStore(), nil
	}
}

func initProvider(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (service.IdentityProvider, error) {
	if cfg.Provider == "oidc" {
		opts := provider.OIDCOptions{
			ClientID:     cfg.Cognito.ClientID,
			ClientSecret: cfg.Cognito.ClientSecret,
			AuthURL:      cfg.OIDC.AuthURL,
			TokenURL:     cfg.OIDC.TokenURL,
			RevokeURL:    cfg.OIDC.RevokeURL,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       cfg.OIDC.Scopes,
		}
		if cfg.OIDC.Issuer == "" {
			return provider.NewOIDCProvider(opts, nil, logger), nil
		}
		p, err := provider.DiscoverOIDCProvider(ctx, cfg.OIDC.Issuer, opts, nil, logger)
		if err != nil {
			return nil, err
		}
		logger.WithField("issuer", cfg.OIDC.Issuer).Info("OIDC provider discovered")
		return p, nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.Cognito.Region, cfg.Cognito.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := cognitoidentityprovider.NewFromConfig(awsCfg)
	logger.WithField("user_pool_id", cfg.Cognito.UserPoolID).Info("Cognito client initialized")

	return provider.NewCognitoProvider(client, cfg.Cognito.ClientID, cfg.Cognito.ClientSecret, logger), nil
}

func setupRouter(
	cfg *config.Config,
	authHandlers *handlers.AuthHandlers,
	contentHandlers *handlers.ContentHandlers,
	healthHandlers *handlers.HealthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	loginLimiter *middleware.RateLimiter,
	registry *prometheus.Registry,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigin))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", healthHandlers.Health).Methods("GET", "OPTIONS")
	router.HandleFunc("/health/services", healthHandlers.Services).Methods("GET", "OPTIONS")
	router.Handle("/metrics", metrics.Handler(registry)).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Handle("/login", loginLimiter.Middleware(http.HandlerFunc(authHandlers.Login))).Methods("POST", "OPTIONS")
	auth.HandleFunc("/authorize", authHandlers.Authorize).Methods("GET", "OPTIONS")
	auth.Handle("/code", loginLimiter.Middleware(http.HandlerFunc(authHandlers.ExchangeCode))).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.Refresh).Methods("POST", "OPTIONS")
	auth.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")
	auth.HandleFunc("/session", authHandlers.Session).Methods("GET", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireSession)

	protected.HandleFunc("/posts", contentHandlers.ListPosts).Methods("GET")
	protected.HandleFunc("/posts", contentHandlers.CreatePost).Methods("POST")
	protected.HandleFunc("/posts/{postID:[0-9]+}", contentHandlers.GetPost).Methods("GET")
	protected.HandleFunc("/posts/{postID:[0-9]+}", contentHandlers.UpdatePost).Methods("PUT")
	protected.HandleFunc("/posts/{postID:[0-9]+}", contentHandlers.DeletePost).Methods("DELETE")
	protected.HandleFunc("/posts/{postID:[0-9]+}/like", contentHandlers.TogglePostLike).Methods("POST")
	protected.HandleFunc("/posts/{postID:[0-9]+}/like", contentHandlers.PostLikeStatus).Methods("GET")
	protected.HandleFunc("/posts/{postID:[0-9]+}/comments", contentHandlers.ListComments).Methods("GET")
	protected.HandleFunc("/posts/{postID:[0-9]+}/comments", contentHandlers.CreateComment).Methods("POST")

	protected.HandleFunc("/comments/my", contentHandlers.MyComments).Methods("GET")
	protected.HandleFunc("/comments/{commentID:[0-9]+}", contentHandlers.UpdateComment).Methods("PATCH")
	protected.HandleFunc("/comments/{commentID:[0-9]+}", contentHandlers.DeleteComment).Methods("DELETE")
	protected.HandleFunc("/comments/{commentID:[0-9]+}/like", contentHandlers.ToggleCommentLike).Methods("POST")
	protected.HandleFunc("/comments/{commentID:[0-9]+}/like", contentHandlers.CommentLikeStatus).Methods("GET")

	protected.HandleFunc("/me", contentHandlers.Me).Methods("GET")

	// Preflights for any route; CORSMiddleware answers them.
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}
