package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	redisCache "github.com/botbridge/whatsapp-bridge-service/internal/cache/redis"
	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	httpHandler "github.com/botbridge/whatsapp-bridge-service/internal/handler/http"
	"github.com/botbridge/whatsapp-bridge-service/internal/persistant/postgresql"
	"github.com/botbridge/whatsapp-bridge-service/internal/provider"
	botRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/bot"
	convRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/conversation"
	messageRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/message"
	eventRepo "github.com/botbridge/whatsapp-bridge-service/internal/repository/webhookevent"
	"github.com/botbridge/whatsapp-bridge-service/internal/service"
	"gorm.io/gorm"
)

var (
	configFile = flag.String("config", "config.json", "config file path")
)

func main() {
	// create root context
	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	// listen for terminate signal
	notifyCtx, stop := signal.NotifyContext(appCtx, syscall.SIGTERM)
	defer stop()

	// parse flags
	flag.Parse()

	// parse config
	config, err := ReadConfigJson(*configFile)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	// initialize external dependencies
	db, rClient, err := initExternalDependencies(notifyCtx, config)
	if err != nil {
		log.Fatalf("failed to initialize external dependencies: %v", err)
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// init repositories
	bots := botRepo.NewBotRepository(db)
	conversations := convRepo.NewConversationRepository(db)
	messages := messageRepo.NewMessageRepository(db, rClient)
	events := eventRepo.NewWebhookEventRepository(db)

	// init provider gateway client
	gateway := provider.NewEvolutionClient(config.ProviderBaseUrl, config.ProviderApiKey, config.ProviderTimeout)

	// init services
	connections := service.NewConnectionManager(
		bots,
		gateway,
		logger.With(slog.String("component", "connectionManager")),
	)
	webhooks := service.NewWebhookProcessor(
		events,
		bots,
		conversations,
		messages,
		connections,
		rClient,
		logger.With(slog.String("component", "webhookProcessor")),
	)
	sender, err := service.NewMessageSender(
		bots,
		conversations,
		messages,
		gateway,
		&config.SendMaxRetry,
		logger.With(slog.String("component", "messageSender")),
	)
	if err != nil {
		log.Fatalf("failed to initiate message sender service: %v", err)
	}

	// init http handler
	httpHandler := httpHandler.NewHttpHandler(
		fmt.Sprintf(":%d", config.HttpPort),
		connections,
		webhooks,
		sender,
		logger.With(slog.String("component", "httpHandler")),
	)

	wg := sync.WaitGroup{}
	// run http handler
	wg.Go(func() {
		if err := httpHandler.Run(); err != nil {
			logger.Error("http server encountered with an error and closed", "error", err.Error())
		}
		// cancel app context if http handler fails
		appCtxCancel()
	})

	// graceful shutdown
	wg.Go(func() {
		<-notifyCtx.Done()
		logger.Info("application shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		httpHandler.Shutdown(shutDownCtx)
		postgresql.Close(db)
	})

	wg.Wait()
	os.Exit(0)
}

func initExternalDependencies(ctx context.Context, config *Config) (db *gorm.DB, rCache *redisCache.RedisCache, err error) {
	// initialize database
	db, err = postgresql.Initialize(config.DbConnString, []any{
		&domain.BotInstance{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.WebhookEvent{},
	})
	if err != nil {
		return
	}

	// initialize cache
	rCache, err = redisCache.NewRedisCache(ctx, config.RedisAddr)

	return
}
