package httpapi

import "context"

// serverBaseCtx is canceled when the daemon begins shutdown. Handler
// contexts derive from it so in-flight proxy work stops when the
// process is going away, not only when the client hangs up.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context handlers derive from.
// A nil ctx resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context that ends as soon as either parent
// does. The cancel func releases the watcher goroutine; callers must
// always invoke it when the handler finishes.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}
