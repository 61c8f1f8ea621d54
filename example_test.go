package weft_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
)

// ExampleNew demonstrates voting on a domain with two orderers.
func ExampleNew() {
	dir := memory.NewDirectory(map[domain.TaskKey]domain.Participants{
		{InstanceID: 1, TaskName: "PurchaseOrder"}:     {Sender: "retailer", Receiver: "manufacturer"},
		{InstanceID: 1, TaskName: "OrderConfirmation"}: {Sender: "manufacturer", Receiver: "retailer"},
	})

	engine, err := weft.New(weft.WithDirectory(dir))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	po, _ := engine.Submit(ctx, "retailer", domain.TaskKey{InstanceID: 1, TaskName: "PurchaseOrder"})
	oc, _ := engine.Submit(ctx, "manufacturer", domain.TaskKey{InstanceID: 1, TaskName: "OrderConfirmation"})

	// Voting opens after the default delay.
	epoch, _ := engine.TickN(ctx, 2)
	fmt.Println("phase:", epoch.Phase)

	_, _ = engine.Vote(ctx, "retailer", 1, []uint64{po, oc})
	res, _ := engine.Vote(ctx, "manufacturer", 1, []uint64{po, oc})
	fmt.Println("order:", res.Commits[0].Order)

	epoch, _ = engine.Epoch(ctx)
	fmt.Println("epoch:", epoch.Number, epoch.Phase)

	// Output:
	// phase: voting
	// order: [0 1]
	// epoch: 1 collecting
}

// ExampleEngine_ReleaseAll shows the fast path for domains that need no agreement.
func ExampleEngine_ReleaseAll() {
	dir := memory.NewDirectory(map[domain.TaskKey]domain.Participants{
		{InstanceID: 1, TaskName: "PurchaseOrder"}:        {Sender: "retailer", Receiver: "manufacturer"},
		{InstanceID: 1, TaskName: "ReplenishmentRequest"}: {Sender: "warehouse", Receiver: "supplier"},
	})
	engine, err := weft.New(weft.WithDirectory(dir), weft.WithVotingDelay(1))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	_, _ = engine.Submit(ctx, "retailer", domain.TaskKey{InstanceID: 1, TaskName: "PurchaseOrder"})
	_, _ = engine.Submit(ctx, "warehouse", domain.TaskKey{InstanceID: 1, TaskName: "ReplenishmentRequest"})
	_, _ = engine.Tick(ctx)

	commits, _ := engine.ReleaseAll(ctx)
	for _, c := range commits {
		fmt.Printf("domain %d: %v\n", c.Domain, c.Order)
	}

	// Output:
	// domain 1: [0]
	// domain 2: [1]
}
