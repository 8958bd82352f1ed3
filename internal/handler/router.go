package handler

import (
	"walletcore/internal/config"
	"walletcore/internal/saga"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, coordinator *saga.Coordinator, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, coordinator, cfg)

	api := r.Group("/api/v1")
	{
		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
		}

		wallet := api.Group("/wallet")
		{
			// 资金操作
			wallet.POST("/recharge", h.Recharge)
			wallet.POST("/freeze", h.Freeze)
			wallet.POST("/deduct", h.Deduct)

			// 修复与导出
			wallet.POST("/replay", h.Replay)
			wallet.POST("/replay_all", h.ReplayAll)
			wallet.POST("/export", h.Export)

			// 查询
			wallet.GET("", h.GetWallet)
			wallet.GET("/slim", h.GetSlimWallet)
			wallet.GET("/transactions", h.ListTransactions)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
