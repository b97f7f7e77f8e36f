package main

import (
	"context"
	"os/signal"
	"syscall"

	"dianping/internal/cache"
	"dianping/internal/config"
	"dianping/internal/idgen"
	"dianping/internal/model"
	"dianping/internal/order"
	"dianping/internal/queue"
	"dianping/internal/router"
	"dianping/internal/seckill"
	rediskey "dianping/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// 数据库：连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	if err := db.AutoMigrate(&model.Shop{}, &model.ShopType{}, &model.Voucher{}, &model.VoucherOrder{}); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// 协调存储
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	kv := rediskey.NewFromClient(rdb)
	defer kv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := kv.Ping(ctx); err != nil {
		logger.Fatal("redis ping", zap.Error(err))
	}

	cc := cache.NewClient(kv, logger, cfg.NullTTL, cfg.CacheLockTTL, cfg.RebuildWorkers)
	defer cc.Close()

	orders := order.NewGormStore(db)
	ids := idgen.NewWorker(kv)
	admitter := seckill.NewRedisAdmitter(kv)
	svc := seckill.NewService(logger, cc, ids, admitter, orders, cfg.OrderQueueSize, cfg.VoucherTTL)

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	locks := rediskey.NewLocker(kv, cfg.OrderLockLease)
	worker := seckill.NewWorker(logger, orders, locks, svc.Tasks(), kv, producer)
	go worker.Run(ctx)

	r := gin.Default()
	router.Setup(r, db, rdb, kv, cc, svc, cfg)

	logger.Info("server starting", zap.String("addr", cfg.HTTPAddr))
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}
