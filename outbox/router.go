package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/julianshaw2000/property-sub001/outbox/queue"
)

// Route describes the downstream destination and worker policy for one
// message category.
type Route struct {
	// Queue is the destination queue name.
	Queue string
	// MaxAttempts is the downstream worker's retry budget for the job.
	MaxAttempts int
	// RetryDelay is the downstream worker's delay between attempts.
	RetryDelay time.Duration
	// RateLimit caps enqueues per second for this route. Zero means
	// unlimited.
	RateLimit rate.Limit
	// RateBurst is the rate limiter burst size. Ignored when RateLimit
	// is zero; defaults to 1 when unset.
	RateBurst int
}

// DefaultRoutes returns the standard category-to-queue routing table:
// email and SMS jobs go to their notification queues with a conservative
// worker policy, AI jobs get a deeper retry budget with short delays.
func DefaultRoutes() map[Category]Route {
	return map[Category]Route{
		CategoryEmail:   {Queue: "email", MaxAttempts: 3, RetryDelay: time.Minute},
		CategorySMS:     {Queue: "sms", MaxAttempts: 3, RetryDelay: time.Minute},
		CategoryAI:      {Queue: "ai", MaxAttempts: 5, RetryDelay: 15 * time.Second},
		CategoryGeneric: {Queue: "generic", MaxAttempts: 3, RetryDelay: time.Minute},
	}
}

// Router maps parsed message types onto downstream queues. The routing
// table is fixed at construction; concurrent use is safe.
type Router struct {
	enqueuer queue.Enqueuer
	routes   map[Category]Route
	limiters map[Category]*rate.Limiter
}

// NewRouter creates a Router over the given enqueuer and routing table.
func NewRouter(enqueuer queue.Enqueuer, routes map[Category]Route) (*Router, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("outbox: router requires an enqueuer")
	}
	if len(routes) == 0 {
		return nil, ErrNoRouter
	}

	limiters := make(map[Category]*rate.Limiter)
	for cat, route := range routes {
		if route.Queue == "" {
			return nil, fmt.Errorf("outbox: route for %q has no queue", cat)
		}
		if route.RateLimit > 0 {
			burst := route.RateBurst
			if burst <= 0 {
				burst = 1
			}
			limiters[cat] = rate.NewLimiter(route.RateLimit, burst)
		}
	}

	return &Router{enqueuer: enqueuer, routes: routes, limiters: limiters}, nil
}

// Enqueue routes one message to its downstream queue. Returns
// ErrUnroutable when no route matches the category and ErrRateLimited
// when the route's limiter rejects the enqueue; any other error is a
// transient downstream failure.
func (r *Router) Enqueue(ctx context.Context, msg *Message, typ Type) error {
	route, ok := r.routes[typ.Category]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnroutable, typ.Raw)
	}

	if lim, limited := r.limiters[typ.Category]; limited && !lim.Allow() {
		return fmt.Errorf("%w: queue %q", ErrRateLimited, route.Queue)
	}

	payload, err := jobPayload(msg, typ)
	if err != nil {
		return fmt.Errorf("outbox: build payload for %s: %w", msg.ID, err)
	}

	job := &queue.Job{
		ID:          msg.ID.String(),
		Queue:       route.Queue,
		Name:        typ.JobName,
		OrgID:       msg.OrgID,
		Payload:     payload,
		MaxAttempts: route.MaxAttempts,
		RetryDelay:  route.RetryDelay,
	}

	return r.enqueuer.Enqueue(ctx, job)
}

// jobPayload merges dispatch envelope fields into the message payload.
// Object payloads get the fields added in place; any other JSON value is
// nested under "data" so it survives the merge.
func jobPayload(msg *Message, typ Type) ([]byte, error) {
	envelope := map[string]json.RawMessage{}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &obj); err == nil && obj != nil {
		envelope = obj
	} else {
		envelope["data"] = msg.Payload
	}

	envelope["outboxMessageId"] = mustRawString(msg.ID.String())
	envelope["orgId"] = mustRawString(msg.OrgID)
	envelope["type"] = mustRawString(typ.JobName)

	return json.Marshal(envelope)
}

func mustRawString(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("outbox: marshal string: %v", err))
	}
	return b
}
