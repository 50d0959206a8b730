// Package outbox implements the transactional outbox core: durable,
// at-least-once dispatch of side-effecting work (email, SMS, AI jobs) out
// of business transactions and into downstream job queues.
//
// Business code publishes events through a Writer inside its own database
// transaction, so an outbox row commits or rolls back together with the
// state change that produced it. One or more Dispatcher processes poll the
// store, claim due rows under FOR UPDATE SKIP LOCKED, route each row to a
// downstream queue by its type's category prefix, and advance the row's
// status. The row ID doubles as the downstream job's deduplication key, so
// a crash between enqueue and status update is absorbed as a no-op
// re-enqueue on the next tick.
//
// # Quick Start
//
//	w := outbox.NewWriter(pgStore.TxInserter(tx))
//	msg, err := w.PublishEmail(ctx, orgID, "ticket.created", payload)
//
//	router, err := outbox.NewRouter(redisQueue, outbox.DefaultRoutes())
//	d, err := outbox.New(pgStore, router,
//	    outbox.WithPollInterval(5*time.Second),
//	)
//	err = d.Run(ctx)
//
// # Architecture
//
// The root package holds the domain types and the Dispatcher; storage
// backends (postgres, bun, memory) implement the Store and Batch contracts
// under store/, and downstream queue adapters (redis, memory) implement
// queue.Enqueuer under queue/. Message IDs are TypeIDs: type-prefixed,
// K-sortable strings built on UUIDv7.
package outbox
