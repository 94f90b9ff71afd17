package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/table-order/internal/adapter/storage"
	"github.com/rl1809/table-order/internal/core/service"
	"github.com/rl1809/table-order/internal/logger"
)

const (
	firstTable = 9001
	tableCount = 5
)

// sessioncheck hammers customer session minting from many independent
// clients sharing one Redis and verifies each table ends up with exactly
// one token.
func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	clients := flag.Int("clients", 50, "concurrent clients per table")
	flag.Parse()

	ctx := context.Background()
	log := logger.NewLogger("sessioncheck", "warn")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis_connect_failed", "failed to connect redis", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := storage.NewRedisAdapter(rdb)

	// Clear previous run
	for t := firstTable; t < firstTable+tableCount; t++ {
		store.Delete(ctx, "customer_session:"+strconv.Itoa(t))
	}

	var tokens sync.Map // table -> *sync.Map of token -> struct{}
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for t := firstTable; t < firstTable+tableCount; t++ {
		seen, _ := tokens.LoadOrStore(t, &sync.Map{})
		for i := 0; i < *clients; i++ {
			wg.Add(1)
			go func(table int, seen *sync.Map) {
				defer wg.Done()

				// each client has its own in-process cache, like a separate pod
				sessions := service.NewSessions(store, log)
				token, err := sessions.GetOrCreate(ctx, table)
				if err != nil {
					failCount.Add(1)
					return
				}
				seen.Store(token, struct{}{})
			}(t, seen.(*sync.Map))
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	fmt.Println("========== SESSION CHECK RESULTS ==========")
	fmt.Printf("Tables:           %d\n", tableCount)
	fmt.Printf("Clients/table:    %d\n", *clients)
	fmt.Printf("Failed calls:     %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===========================================")

	ok := failCount.Load() == 0
	for t := firstTable; t < firstTable+tableCount; t++ {
		seen, _ := tokens.Load(t)
		distinct := 0
		seen.(*sync.Map).Range(func(_, _ any) bool {
			distinct++
			return true
		})
		if distinct == 1 {
			fmt.Printf("PASS: table %d has a single token\n", t)
		} else {
			fmt.Printf("FAIL: table %d saw %d distinct tokens\n", t, distinct)
			ok = false
		}
	}

	if !ok {
		os.Exit(1)
	}
}
