package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/adapter/anchor"
	"github.com/rl1809/crop-exchange/internal/adapter/storage"
	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/core/service"
)

const (
	initialQuantity = 20
	totalBuyers     = 50
)

// Every buyer requests one unit of the same batch and the farmer accepts
// all of them at once. Exactly initialQuantity accepts must succeed.
func main() {
	buyers := flag.Int("buyers", totalBuyers, "concurrent distributor orders")
	quantity := flag.Int64("quantity", initialQuantity, "units in the harvested batch")
	flag.Parse()

	ctx := context.Background()

	db := storage.NewMemoryAdapter()
	sim := anchor.Simulated{}
	orders := service.NewOrderService(db, sim)
	batches := service.NewBatchService(db, sim)
	parties := service.NewPartyService(db)

	farmer, err := parties.RegisterParty(ctx, service.RegisterPartyRequest{Name: "farmer", Role: domain.RoleProducer, WalletAddress: "0xfarmer"})
	if err != nil {
		log.Fatalf("failed to register farmer: %v", err)
	}
	batch, err := batches.RegisterBatch(ctx, service.RegisterBatchRequest{
		ProducerID: farmer.ID,
		Name:       "stress-test-wheat",
		Unit:       "kg",
		Quantity:   decimal.NewFromInt(*quantity),
		UnitPrice:  decimal.NewNullDecimal(decimal.NewFromInt(1)),
		Sellable:   true,
	})
	if err != nil {
		log.Fatalf("failed to register batch: %v", err)
	}

	orderIDs := make([]string, 0, *buyers)
	for i := 0; i < *buyers; i++ {
		buyer, err := parties.RegisterParty(ctx, service.RegisterPartyRequest{
			Name:          fmt.Sprintf("distributor-%d", i),
			Role:          domain.RoleDistributor,
			WalletAddress: fmt.Sprintf("0xdist%d", i),
		})
		if err != nil {
			log.Fatalf("failed to register buyer: %v", err)
		}
		order, err := orders.CreateOrder(ctx, service.CreateOrderRequest{
			BatchID:  batch.ID,
			BuyerID:  buyer.ID,
			SellerID: farmer.ID,
			Quantity: decimal.NewFromInt(1),
		})
		if err != nil {
			log.Fatalf("failed to create order: %v", err)
		}
		orderIDs = append(orderIDs, order.ID)
	}

	var successCount, soldOutCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()

			_, err := orders.AcceptOrder(ctx, orderID, farmer.ID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientInventory), errors.Is(err, domain.ErrBatchNotSellable):
				soldOutCount.Add(1)
			default:
				failCount.Add(1)
				log.Printf("unexpected accept error: %v", err)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int64(successCount.Load())
	soldOut := int64(soldOutCount.Load())
	expected := min(*quantity, int64(*buyers))

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Quantity: %d\n", *quantity)
	fmt.Printf("Total Accepts:    %d\n", *buyers)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == expected && soldOut == int64(*buyers)-expected {
		fmt.Printf("PASS: Exactly %d accepts succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: Expected %d accepted/%d sold out, got %d/%d\n", expected, int64(*buyers)-expected, success, soldOut)
		failed = true
	}

	final, err := batches.GetBatch(ctx, batch.ID)
	if err != nil {
		log.Fatalf("failed to read batch: %v", err)
	}
	fmt.Printf("Final Available:  %s (%s)\n", final.Available, final.Status)

	want := decimal.NewFromInt(*quantity - expected)
	if final.Available.Equal(want) {
		fmt.Printf("PASS: Available is %s\n", want)
	} else {
		fmt.Printf("FAIL: Expected available %s, got %s\n", want, final.Available)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}
