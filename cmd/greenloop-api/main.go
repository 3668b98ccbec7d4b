package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/auth"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/chat"
	"github.com/greenloop-labs/greenloop/backend/internal/config"
	"github.com/greenloop-labs/greenloop/backend/internal/credits"
	"github.com/greenloop-labs/greenloop/backend/internal/database"
	"github.com/greenloop-labs/greenloop/backend/internal/garden"
	"github.com/greenloop-labs/greenloop/backend/internal/groups"
	"github.com/greenloop-labs/greenloop/backend/internal/logging"
	"github.com/greenloop-labs/greenloop/backend/internal/mobility"
	"github.com/greenloop-labs/greenloop/backend/internal/server"
	"github.com/greenloop-labs/greenloop/backend/internal/sessions"
	"github.com/greenloop-labs/greenloop/backend/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "greenloop-api",
		Short: "GreenLoop carbon-reduction backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Float64("credit-per-gram", defaults.GetFloat64("credits.per_gram"), "Points per gram of CO2 saved")
	cmd.PersistentFlags().Int64("watering-cost", defaults.GetInt64("garden.watering_cost"), "Point cost of one garden watering")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the session store (empty disables sessions)")
	cmd.PersistentFlags().String("gemini-model", defaults.GetString("gemini.model"), "Gemini model for the chatbot")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "credits.per_gram", "credit-per-gram")
	bindFlag(cmd, "garden.watering_cost", "watering-cost")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "gemini.model", "gemini-model")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// challengeIdeaAdapter lets the chatbot create personal challenges without
// the chat package depending on the challenge engine.
type challengeIdeaAdapter struct {
	service *challenges.Service
}

func (a challengeIdeaAdapter) CreateFromIdea(ctx context.Context, userID uint64, idea chat.ChallengeIdea) (uint64, error) {
	targetMode, err := carbon.ParseTargetMode(idea.TargetMode)
	if err != nil {
		targetMode = carbon.ModeAny
	}
	challenge, err := a.service.CreateAndJoin(ctx, userID, challenges.SuggestedChallenge{
		Title:            idea.Title,
		Description:      idea.Description,
		Reward:           idea.Reward,
		TargetMode:       targetMode,
		TargetSavedG:     idea.TargetSavedG,
		TargetDistanceKM: idea.TargetDistanceKM,
	})
	if err != nil {
		return 0, err
	}
	return challenge.ID, nil
}

const statusSweepInterval = time.Minute

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.Seed(db, time.Now().UTC()); err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "greenloop-auth",
		Audience:      "greenloop-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	creditsService, err := credits.NewService(credits.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	factorTable, err := carbon.NewFactorTable(carbon.FactorTableConfig{
		Database:      db,
		CreditPerGram: appConfig.CreditPerGram,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewFeedDispatcher(time.Now, logger)
	aggregator := mobility.NewAggregator()

	challengeService, err := challenges.NewService(challenges.ServiceConfig{
		Database: db,
		Trips:    aggregator,
		Events:   dispatcher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	groupService, err := groups.NewService(groups.ServiceConfig{
		Database: db,
		Trips:    aggregator,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	groupChallengeService, err := groups.NewChallengeService(groups.ChallengeServiceConfig{
		Database: db,
		Groups:   groupService,
		Events:   dispatcher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	mobilityService, err := mobility.NewService(mobility.ServiceConfig{
		Database:      db,
		Factors:       factorTable,
		Ledger:        creditsService,
		Challenges:    challengeService,
		Contributions: groupChallengeService,
		Publisher:     dispatcher,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	gardenService, err := garden.NewService(garden.ServiceConfig{
		Database:     db,
		Ledger:       creditsService,
		WateringCost: appConfig.WateringCost,
		Publisher:    dispatcher,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var sessionStore *sessions.Store
	if appConfig.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddr,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		sessionStore, err = sessions.NewStore(sessions.StoreConfig{Client: redisClient})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logger.Warn("redis not configured; session store disabled")
	}

	var chatbot *chat.Orchestrator
	if appConfig.GeminiAPIKey != "" {
		generator, err := chat.NewGeminiGenerator(ctx, appConfig.GeminiAPIKey, appConfig.GeminiModel)
		if err != nil {
			return err
		}
		var searcher chat.Searcher
		if appConfig.SearchAPIKey != "" && appConfig.SearchEngineID != "" {
			searcher, err = chat.NewWebSearcher(appConfig.SearchAPIKey, appConfig.SearchEngineID)
			if err != nil {
				return err
			}
		}
		chatbot, err = chat.NewOrchestrator(chat.OrchestratorConfig{
			Generator:  generator,
			Searcher:   searcher,
			Tips:       chat.NewTipStore(db),
			Challenges: challengeIdeaAdapter{service: challengeService},
			Logger:     logger,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("gemini not configured; chatbot disabled")
	}

	deps := server.Dependencies{
		TokenIssuer:     tokenIssuer,
		Users:           usersService,
		Mobility:        mobilityService,
		Credits:         creditsService,
		Garden:          gardenService,
		Challenges:      challengeService,
		Groups:          groupService,
		GroupChallenges: groupChallengeService,
		Chatbot:         chatbot,
		Dispatcher:      dispatcher,
		Logger:          logger,
	}
	// Left unset when redis is absent so the interface stays nil and the
	// session routes are not registered.
	if sessionStore != nil {
		deps.Sessions = sessionStore
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Date-driven status transitions also run lazily before reads; the
	// timer keeps statuses fresh for clients that only listen.
	go func() {
		ticker := time.NewTicker(statusSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-signalCtx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if err := challengeService.AdvanceStatuses(signalCtx, now); err != nil {
					logger.Warn("challenge status sweep failed", zap.Error(err))
				}
				if err := groupChallengeService.AdvanceStatuses(signalCtx, now); err != nil {
					logger.Warn("group challenge status sweep failed", zap.Error(err))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
