package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletcore/internal/config"
	"walletcore/internal/consumer"
	"walletcore/internal/handler"
	"walletcore/internal/infrastructure/cache"
	"walletcore/internal/infrastructure/database"
	"walletcore/internal/infrastructure/mq"
	"walletcore/internal/saga"
	"walletcore/internal/service"
	"walletcore/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL（事件表 / 流水表 / 订单表）
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis（快照缓存 + 重放锁）
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	producer := mq.NewProducer(&cfg.Kafka)
	defer producer.Close()

	// saga 协调器：HTTP 侧推批次，消费侧回推应答，必须共享同一实例
	coordinator := saga.NewCoordinator(
		saga.NewKafkaPublisher(producer, cfg.Kafka.Topic),
		&cfg.Business,
	)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动事件消费
	replayService := service.NewReplayService(db, redisClient, cfg)
	txnService := service.NewTransactionService(db, redisClient)
	eventHandler := consumer.NewHandler(db, redisClient, replayService, txnService, coordinator, cfg.Kafka.Topic)

	group := mq.NewConsumerGroup(&cfg.Kafka)
	defer group.Close()
	go mq.StartConsume(ctx, group, []string{
		cfg.Kafka.Topic.AccountEvents,
		cfg.Kafka.Topic.TransactionEvents,
	}, eventHandler)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, coordinator, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止消费
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
