package queue

import (
	"fmt"
	"time"
)

// OrderMessage 是订单落库成功后写入 Kafka 的事件，供下游（通知、结算）消费。
type OrderMessage struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate 做最小字段校验，防止下游处理脏消息。
func (m OrderMessage) Validate() error {
	if m.OrderID <= 0 {
		return fmt.Errorf("order_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.VoucherID <= 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}
