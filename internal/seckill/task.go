package seckill

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderTask 已通过准入、尚未落库的订单。由准入侧创建，
// 只被唯一的落库 worker 消费，落库成功后丢弃，失败必须留下日志。
type OrderTask struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// Descriptor 订单在待落库列表中的线格式 orderId:userId:voucherId。
// 崩溃后恢复扫描依赖该格式，修改需同步 admitLua。
func Descriptor(orderID, userID, voucherID int64) string {
	return fmt.Sprintf("%d:%d:%d", orderID, userID, voucherID)
}

// Descriptor 返回任务对应的列表描述符。
func (t OrderTask) Descriptor() string {
	return Descriptor(t.OrderID, t.UserID, t.VoucherID)
}

// ParseDescriptor 解析待落库列表中的描述符。
func ParseDescriptor(s string) (OrderTask, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return OrderTask{}, fmt.Errorf("malformed order descriptor %q", s)
	}
	orderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return OrderTask{}, fmt.Errorf("invalid order id in %q", s)
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return OrderTask{}, fmt.Errorf("invalid user id in %q", s)
	}
	voucherID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return OrderTask{}, fmt.Errorf("invalid voucher id in %q", s)
	}
	return OrderTask{OrderID: orderID, UserID: userID, VoucherID: voucherID}, nil
}
