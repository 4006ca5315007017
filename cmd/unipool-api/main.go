// README: Entry point; loads config, wires services, starts HTTP server and
// the departure-reminder scheduler.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"unipool/internal/config"
	httptransport "unipool/internal/http"
	"unipool/internal/infra"
	"unipool/internal/maps"
	"unipool/internal/modules/chat"
	"unipool/internal/modules/member"
	"unipool/internal/modules/party"
	"unipool/internal/modules/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	amqpConn, amqpCh, err := infra.NewAMQPChannel(cfg.AMQP.URL)
	if err != nil {
		logger.Fatal("amqp init", zap.Error(err))
	}
	defer amqpConn.Close()
	defer amqpCh.Close()

	fareSvc, err := maps.NewFareService(cfg.Maps.APIKey)
	if err != nil {
		logger.Fatal("maps init", zap.Error(err))
	}

	memberStore := member.NewStore(dbPool)
	partyStore := party.NewStore(dbPool)
	chatStore := chat.NewStore(dbPool)

	chatSvc := chat.NewService(chatStore, redisClient, memberStore)
	pusher := push.NewPublisher(amqpCh, infra.PushExchange)

	runner := party.NewRunner(cfg.Async.Workers, logger)
	defer runner.Close()

	partySvc := party.NewService(partyStore, memberStore, fareSvc, chatSvc, pusher, runner, logger)

	go partySvc.RunReminderScheduler(ctx, cfg.Reminder)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Party:     partySvc,
		Chat:      chatSvc,
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server", zap.Error(err))
	}
}
