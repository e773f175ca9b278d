// loadtest - нагрузочный тест API прогноза и приема продаж.
//
//	go run ./scripts/loadtest -mode forecast -concurrency 50 -duration 10s -rps 500
//	go run ./scripts/loadtest -mode sales -product-ids 1,2,3
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type stats struct {
	total        int64
	success      int64
	failed       int64
	totalLatency int64
	minLatency   int64
	maxLatency   int64
	start        time.Time
}

func (s *stats) observe(latency time.Duration, ok bool) {
	us := latency.Microseconds()
	atomic.AddInt64(&s.total, 1)
	if ok {
		atomic.AddInt64(&s.success, 1)
	} else {
		atomic.AddInt64(&s.failed, 1)
	}
	atomic.AddInt64(&s.totalLatency, us)
	for {
		old := atomic.LoadInt64(&s.minLatency)
		if (old != 0 && us >= old) || atomic.CompareAndSwapInt64(&s.minLatency, old, us) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.maxLatency)
		if us <= old || atomic.CompareAndSwapInt64(&s.maxLatency, old, us) {
			break
		}
	}
}

func (s *stats) avgLatency() int64 {
	total := atomic.LoadInt64(&s.total)
	if total == 0 {
		return 0
	}
	return atomic.LoadInt64(&s.totalLatency) / total
}

type requestFactory func(rng *rand.Rand) (*http.Request, error)

func forecastRequests(baseURL string, productIDs []uint) requestFactory {
	return func(rng *rand.Rand) (*http.Request, error) {
		url := baseURL + "/api/v1/sales-forecast/forecast?horizon=7"
		if len(productIDs) > 0 && rng.Intn(2) == 0 {
			url += "&product_id=" + strconv.FormatUint(uint64(productIDs[rng.Intn(len(productIDs))]), 10)
		}
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func salesRequests(baseURL string, productIDs []uint) requestFactory {
	return func(rng *rand.Rand) (*http.Request, error) {
		type line struct {
			ProductID uint `json:"product_id"`
			Quantity  int  `json:"quantity"`
		}
		body := map[string]interface{}{
			"receipt_no":     "LOAD-" + uuid.New().String(),
			"payment_method": "card",
			"items":          []line{{ProductID: productIDs[rng.Intn(len(productIDs))], Quantity: 1 + rng.Intn(2)}},
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/sales", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

func worker(client *http.Client, next requestFactory, st *stats, interval time.Duration, seed int64, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			req, err := next(rng)
			if err != nil {
				st.observe(0, false)
				continue
			}
			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				st.observe(time.Since(start), false)
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			st.observe(time.Since(start), resp.StatusCode >= 200 && resp.StatusCode < 300)
		}
	}
}

func parseIDs(s string) []uint {
	var ids []uint
	for _, raw := range strings.Split(s, ",") {
		if id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64); err == nil && id > 0 {
			ids = append(ids, uint(id))
		}
	}
	return ids
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "адрес сервера")
	mode := flag.String("mode", "forecast", "forecast | sales")
	concurrency := flag.Int("concurrency", 50, "количество горутин")
	duration := flag.Duration("duration", 10*time.Second, "длительность теста")
	targetRPS := flag.Int("rps", 500, "целевое количество запросов в секунду")
	products := flag.String("product-ids", "1", "ID товаров через запятую")
	flag.Parse()

	productIDs := parseIDs(*products)
	var next requestFactory
	switch *mode {
	case "forecast":
		next = forecastRequests(*baseURL, productIDs)
	case "sales":
		if len(productIDs) == 0 {
			log.Fatalf("❌ Для режима sales нужны -product-ids")
		}
		next = salesRequests(*baseURL, productIDs)
	default:
		log.Fatalf("❌ Неизвестный режим %q", *mode)
	}

	fmt.Printf("🚀 Нагрузочное тестирование: %s (%s)\n", *mode, *baseURL)
	fmt.Printf("👥 Concurrency: %d горутин, ⏱️ %v, 🎯 %d запросов/сек\n", *concurrency, *duration, *targetRPS)

	perWorker := *targetRPS / *concurrency
	if perWorker < 1 {
		perWorker = 1
	}
	interval := time.Second / time.Duration(perWorker)

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency,
			MaxIdleConnsPerHost: *concurrency,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	st := &stats{start: time.Now()}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go worker(client, next, st, interval, int64(i)+time.Now().UnixNano(), stop, &wg)
	}

	ticker := time.NewTicker(time.Second)
	deadline := time.After(*duration)
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-ticker.C:
			elapsed := time.Since(st.start).Seconds()
			total := atomic.LoadInt64(&st.total)
			fmt.Printf("⏱️  [%.0fs] RPS: %.0f | Всего: %d | ✅ %d | ❌ %d | ⚡ %d мкс\n",
				elapsed, float64(total)/elapsed, total, atomic.LoadInt64(&st.success), atomic.LoadInt64(&st.failed), st.avgLatency())
		}
	}
	ticker.Stop()
	close(stop)
	wg.Wait()

	elapsed := time.Since(st.start).Seconds()
	total := atomic.LoadInt64(&st.total)
	successRate := 0.0
	if total > 0 {
		successRate = float64(st.success) / float64(total) * 100
	}
	fmt.Printf("\n📊 Итог: %.2f c, %d запросов, %.0f RPS, успешных %.2f%%\n", elapsed, total, float64(total)/elapsed, successRate)
	fmt.Printf("⚡ Латентность: средняя %d мкс, мин %d мкс, макс %d мкс\n", st.avgLatency(), st.minLatency, st.maxLatency)
}
