// Package dispenser hands out unique tickets from finite per-event inventories.
//
// Inventory lives in a primary store shared by every dispenser process
// (Redis lists or a NATS JetStream KV bucket). Each dispense pops one token
// with a backend-side atomic operation, so a token is never handed out twice
// however many callers race for it. When the primary store stops answering,
// the dispenser copies whatever inventory it can still read into an
// in-process fallback store and keeps serving from there. A background prober
// switches back once the primary answers again.
//
// # Quick Start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := redisstore.New(client, redisstore.Config{})
//
//	d, err := dispenser.New(dispenser.DefaultConfig(), store,
//	    dispenser.WithLogger(dispenser.NewSlogLogger(slog.Default())),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Stop(context.Background())
//
//	ticket, ok, err := d.Dispense(ctx, "1")
//	switch {
//	case err != nil:
//	    // invalid event ID or unclassified fault
//	case !ok:
//	    // sold out
//	default:
//	    fmt.Println(ticket.Token, ticket.Mode)
//	}
//
// # Modes
//
//	primary ──(store unavailable / startup probe failed)──▶ fallback
//	fallback ──(recovery probe succeeded)──▶ primary
//
// Only the failover controller changes the mode. A failover counts one
// activation and takes one snapshot no matter how many requests observed the
// outage. Nothing is copied back on recovery: tokens sold from the fallback
// store stay sold, and the primary keeps whatever it held.
//
// # Known Limits
//
// The snapshot is best-effort. Tokens added to the primary during an outage
// are invisible until recovery, and a token popped at the primary whose reply
// was lost in the failure is sold but unclaimed. In rare timing windows a
// token can be dispensed by both stores. Fallback inventory is local to one
// process.
package dispenser
