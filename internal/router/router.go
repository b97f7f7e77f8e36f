package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dianping/internal/cache"
	"dianping/internal/config"
	"dianping/internal/middleware"
	"dianping/internal/model"
	"dianping/internal/seckill"
	rediskey "dianping/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, kv *rediskey.Client,
	cc *cache.Client, svc *seckill.Service, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Shops
	r.GET("/api/shops/:id", getShop(db, cc, cfg.ShopCacheTTL))
	r.PUT("/api/shops/:id", updateShop(db, cc, cfg.AdminToken))
	r.GET("/api/shop-types", listShopTypes(db, kv, cfg.ShopCacheTTL))
	// Vouchers
	r.POST("/api/vouchers", createVoucher(db, kv, svc, cfg.AdminToken))
	r.POST("/api/vouchers/preload/:voucher_id", preloadVoucher(db, kv, svc, cfg.AdminToken))
	r.POST("/api/vouchers/seckill",
		middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow), buyVoucher(svc))
	// Orders
	r.GET("/api/orders/:id", getOrder(db))
}

// getShop 查询商铺，经穿透防护缓存。
func getShop(db *gorm.DB, cc *cache.Client, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param("id")
		if _, err := strconv.ParseUint(idStr, 10, 32); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}

		var shop model.Shop
		opt := cache.Options{
			KeyPrefix: rediskey.CacheShopPrefix,
			Strategy:  cache.PassThrough,
			TTL:       ttl,
		}
		found, err := cc.Get(c.Request.Context(), opt, idStr, &shop,
			func(ctx context.Context, id string) (any, error) {
				var s model.Shop
				if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return &s, nil
			})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// updateShop 写路径：先更新数据库，再删缓存，下一次读回源重建。
func updateShop(db *gorm.DB, cc *cache.Client, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		idStr := c.Param("id")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}

		var req struct {
			Name     string `json:"name"`
			Address  string `json:"address"`
			AvgPrice int64  `json:"avg_price"`
			Score    int    `json:"score"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		updates := map[string]any{}
		if req.Name != "" {
			updates["name"] = req.Name
		}
		if req.Address != "" {
			updates["address"] = req.Address
		}
		if req.AvgPrice > 0 {
			updates["avg_price"] = req.AvgPrice
		}
		if req.Score > 0 {
			updates["score"] = req.Score
		}
		res := db.WithContext(c.Request.Context()).Model(&model.Shop{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
			return
		}

		if err := cc.Delete(c.Request.Context(), rediskey.CacheShopPrefix+idStr); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "cache invalidate: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "更新成功"})
	}
}

// listShopTypes 首页分类列表，整表缓存在 Redis list 中。
func listShopTypes(db *gorm.DB, kv *rediskey.Client, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cached, err := kv.LRange(ctx, rediskey.CacheShopTypeKey, 0, -1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if len(cached) > 0 {
			list := make([]model.ShopType, 0, len(cached))
			for _, raw := range cached {
				var t model.ShopType
				if err := json.Unmarshal([]byte(raw), &t); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
					return
				}
				list = append(list, t)
			}
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
			return
		}

		var list []model.ShopType
		if err := db.WithContext(ctx).Order("sort asc").Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if len(list) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺类型不存在"})
			return
		}

		values := make([]interface{}, 0, len(list))
		for _, t := range list {
			b, err := json.Marshal(t)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
				return
			}
			values = append(values, string(b))
		}
		if err := kv.RPush(ctx, rediskey.CacheShopTypeKey, values...); err == nil {
			_ = kv.Expire(ctx, rediskey.CacheShopTypeKey, ttl)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createVoucher 创建秒杀券（含时间窗校验），同时完成三件预热：
// Redis 库存镜像、已购集合清零、券信息逻辑过期缓存。
func createVoucher(db *gorm.DB, kv *rediskey.Client, svc *seckill.Service, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		var req struct {
			ShopID    uint   `json:"shop_id" binding:"required,min=1"`
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			PayValue  int64  `json:"pay_value" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}

		v := &model.Voucher{
			ShopID:    req.ShopID,
			Title:     req.Title,
			Stock:     req.Stock,
			PayValue:  req.PayValue,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := db.WithContext(c.Request.Context()).Create(v).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		if err := primeVoucher(c, kv, svc, v); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "预热失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preloadVoucher 从数据库重新预热某张券（库存镜像 + 券缓存）。
func preloadVoucher(db *gorm.DB, kv *rediskey.Client, svc *seckill.Service, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		id, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}

		var v model.Voucher
		if err := db.WithContext(c.Request.Context()).First(&v, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "券不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		if err := primeVoucher(c, kv, svc, &v); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "预热失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

func primeVoucher(c *gin.Context, kv *rediskey.Client, svc *seckill.Service, v *model.Voucher) error {
	ctx := c.Request.Context()
	if err := kv.Set(ctx, rediskey.StockKey(v.ID), strconv.FormatInt(v.Stock, 10), 0); err != nil {
		return err
	}
	if err := kv.Del(ctx, rediskey.OrderSetKey(v.ID)); err != nil {
		return err
	}
	return svc.WarmVoucher(ctx, v)
}

// buyVoucher 秒杀下单入口：准入成功立即返回订单 id，落库异步完成。
func buyVoucher(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VoucherID int64 `json:"voucher_id" binding:"required,min=1"`
			UserID    int64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		orderID, err := svc.SeckillVoucher(c.Request.Context(), req.VoucherID, req.UserID)
		if err != nil {
			status, code, msg := mapSeckillError(err)
			c.JSON(status, gin.H{"code": code, "msg": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id": orderID,
				"status":   "pending",
			},
		})
	}
}

// mapSeckillError 将类型化的准入结果映射为前端可读语义。
func mapSeckillError(err error) (status, code int, msg string) {
	switch {
	case errors.Is(err, seckill.ErrVoucherNotFound):
		return http.StatusNotFound, 404, "券不存在或未预热"
	case errors.Is(err, seckill.ErrNotStarted):
		return http.StatusBadRequest, 400, "秒杀尚未开始"
	case errors.Is(err, seckill.ErrEnded):
		return http.StatusBadRequest, 400, "秒杀已经结束"
	case errors.Is(err, seckill.ErrOutOfStock):
		return http.StatusBadRequest, 400, "库存不足"
	case errors.Is(err, seckill.ErrDuplicate):
		return http.StatusBadRequest, 400, "不能重复下单"
	case errors.Is(err, seckill.ErrQueueFull):
		return http.StatusServiceUnavailable, 503, "系统繁忙，请稍后查询订单"
	default:
		return http.StatusInternalServerError, 500, err.Error()
	}
}

// getOrder 按订单 id 查询异步落库结果。pending 表示已准入、尚未落库。
func getOrder(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单ID无效"})
			return
		}

		var o model.VoucherOrder
		dbErr := db.WithContext(c.Request.Context()).First(&o, id).Error
		if dbErr != nil {
			if errors.Is(dbErr, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusOK, gin.H{
					"code": 0,
					"data": gin.H{"order_id": id, "status": "pending"},
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": dbErr.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id":   o.ID,
				"user_id":    o.UserID,
				"voucher_id": o.VoucherID,
				"created_at": o.CreatedAt,
				"status":     "created",
			},
		})
	}
}
