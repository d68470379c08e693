package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/tenant-checkout/internal/adapter/storage"
	"github.com/rl1809/tenant-checkout/internal/config"
	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/core/service"
	"github.com/rl1809/tenant-checkout/internal/port"
)

const (
	productID     = "flash-sale-item"
	initialStock  = 20
	totalRequests = 50
)

type seeder interface {
	UpsertProduct(ctx context.Context, p domain.Product) error
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	var (
		db   port.DatabaseRepository
		seed seeder
	)
	switch cfg.StorageDriver {
	case config.DriverMemory:
		mem := storage.NewMemoryAdapter()
		db, seed = mem, mem
	default:
		sqlDB, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		defer sqlDB.Close()
		if err := storage.RunMigrations(sqlDB); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		adapter := storage.NewMySQLAdapter(sqlDB)
		db, seed = adapter, adapter
	}

	// A fresh tenant per run keeps previous runs out of the numbers.
	tenantID := "stress-" + uuid.New().String()[:8]
	if err := seed.UpsertProduct(ctx, domain.Product{
		ID:        productID,
		TenantID:  tenantID,
		SKU:       "FS-001",
		Name:      "Flash sale item",
		Price:     decimal.NewFromInt(100),
		Inventory: initialStock,
		IsActive:  true,
	}); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	locker := storage.NewKeyedLocker()
	engine := service.NewPricingEngine(db)
	carts := service.NewCartService(db, engine, nil, locker)
	checkout := service.NewCheckoutService(db, engine, service.NewInventoryGuard(), nil, locker, nil)

	for i := 0; i < totalRequests; i++ {
		if _, err := carts.AddItem(ctx, tenantID, fmt.Sprintf("user-%d", i), productID, 1); err != nil {
			log.Fatalf("failed to fill cart %d: %v", i, err)
		}
	}

	addr := domain.ShippingAddress{
		FullName: "Stress Tester", Street: "1 Load St", City: "Hanoi",
		State: "HN", PostalCode: "100000", Country: "VN",
	}

	var successCount atomic.Int32
	var failCount atomic.Int32
	var numbers sync.Map

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			order, err := checkout.CreateOrder(ctx, tenantID, fmt.Sprintf("user-%d", userID), addr)
			if err == nil {
				successCount.Add(1)
				numbers.Store(order.OrderNumber, struct{}{})
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Tenant:           %s\n", tenantID)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Checkouts:  %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && fail == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	distinct := 0
	numbers.Range(func(_, _ any) bool {
		distinct++
		return true
	})
	if distinct == int(success) {
		fmt.Println("PASS: Order numbers are unique")
	} else {
		fmt.Printf("FAIL: %d orders share %d order numbers\n", success, distinct)
	}

	product, err := db.GetProduct(ctx, tenantID, productID)
	if err != nil || product == nil {
		log.Fatalf("failed to read product: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", product.Inventory)
	if product.Inventory == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", product.Inventory)
	}
}
