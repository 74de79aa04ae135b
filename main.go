package main

import (
	"context"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/techagentng/qwik/config"
	"github.com/techagentng/qwik/db"
	"github.com/techagentng/qwik/logger"
	"github.com/techagentng/qwik/realtime"
	"github.com/techagentng/qwik/realtime/bus"
	"github.com/techagentng/qwik/server"
	"github.com/techagentng/qwik/services"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	appLog, err := logger.New(conf.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Sync()

	gormDB := db.GetDB(conf)

	var (
		chatBus realtime.Bus
		locker  db.PairLocker
	)
	if conf.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:        conf.RedisAddr,
			Password:    conf.RedisPassword,
			DialTimeout: 5 * time.Second,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			appLog.Fatal("redis ping", "addr", conf.RedisAddr, "error", err)
		}
		redisBus, err := bus.NewRedisBus(ctx, rdb, conf.RedisChannel, appLog)
		cancel()
		if err != nil {
			appLog.Fatal("redis bus", "error", err)
		}
		chatBus = redisBus
		locker = db.NewRedisPairLocker(rdb, conf.PairLockTTL, appLog)
		appLog.Info("chat fan-out via redis", "addr", conf.RedisAddr, "channel", conf.RedisChannel)
	} else {
		chatBus = realtime.NewHub(appLog)
		locker = db.NewLocalPairLocker()
		appLog.Info("chat fan-out in process")
	}

	authRepo := db.NewAuthRepo(gormDB)
	chatRepo := db.NewChatRepo(gormDB, locker)
	followRepo := db.NewFollowRepo(gormDB)

	chatService := services.NewChatService(chatRepo, authRepo, followRepo, conf)

	s := &server.Server{
		Config:         conf,
		Logger:         appLog,
		AuthRepository: authRepo,
		ChatRepository: chatRepo,
		ChatService:    chatService,
		Bus:            chatBus,
	}
	s.Start()
}
