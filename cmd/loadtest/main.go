package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Int64("voucher", 1, "voucher id")
	preload := flag.Bool("preload", true, "call preload before test")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for preload endpoint")

	// 超卖测试参数：200 个用户并发抢购
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if *preload {
		// 先预热库存镜像与券缓存，再发并发请求，避免冷 miss 导致测试偏差。
		if err := doPOST(client, fmt.Sprintf("%s/api/vouchers/preload/%d", *baseURL, *voucherID), nil, map[string]string{
			"X-Admin-Token": *adminToken,
		}); err != nil {
			panic(fmt.Sprintf("preload failed: %v", err))
		}
		fmt.Println("preload ok")
	}

	// 1) 不超卖测试：不同 user 并发，200 成功数不应超过库存
	fmt.Printf("start oversell test: voucher=%d users=%d concurrency=%d\n", *voucherID, *nUsers, *concurrency)
	results := runBuy(client, *baseURL, *voucherID, *nUsers, *concurrency)
	printSummary("oversell", results)

	// 2) 一人一单测试：同一个 user 并发重复抢，至多一个 200
	fmt.Println("\nstart duplicate test: same user (10001), 50 requests, concurrency 50")
	results2 := runBuySameUser(client, *baseURL, *voucherID, 10001, 50, 50)
	printSummary("duplicate", results2)
}

func runBuy(client *http.Client, baseURL string, voucherID int64, nUsers int, concurrency int) []Result {
	type Req struct {
		VoucherID int64 `json:"voucher_id"`
		UserID    int64 `json:"user_id"`
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nUsers)

	for i := 0; i < nUsers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := Req{VoucherID: voucherID, UserID: int64(idx + 1)}
			results[idx] = buyOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func runBuySameUser(client *http.Client, baseURL string, voucherID int64, userID int64, total int, concurrency int) []Result {
	type Req struct {
		VoucherID int64 `json:"voucher_id"`
		UserID    int64 `json:"user_id"`
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := Req{VoucherID: voucherID, UserID: userID}
			results[idx] = buyOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL string, req any) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/vouchers/seckill", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
