package ledgercored

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PollInterval is how often the daemon triggers an Event Source -> Rebuilder
// -> Pusher cycle. A triggered refresh arriving while a cycle is already
// running is dropped by Cycle.Run rather than queued (spec §5).
const PollInterval = 15 * time.Second

// Daemon wires the periodic pipeline cycle to the admin/health HTTP server
// and runs both until its context is cancelled, grounded on
// services/oracle-attesterd's Main() daemon-wiring pattern.
type Daemon struct {
	cycle      *Cycle
	httpServer *http.Server
}

// NewDaemon constructs a Daemon serving admin on listenAddr.
func NewDaemon(cycle *Cycle, admin *AdminServer, listenAddr string) *Daemon {
	return &Daemon{
		cycle: cycle,
		httpServer: &http.Server{
			Addr:         listenAddr,
			Handler:      otelhttp.NewHandler(admin.Router(), "ledgercored"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run starts the HTTP server and the periodic cycle ticker, blocking until
// ctx is cancelled, then shuts both down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		log.Printf("ledgercored listening on %s", d.httpServer.Addr)
		errs <- d.httpServer.ListenAndServe()
	}()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
				_ = d.httpServer.Close()
				return err
			}
			return nil
		case err := <-errs:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case <-ticker.C:
			if err := d.cycle.Run(ctx); err != nil {
				log.Printf("ledgercored: cycle error: %v", err)
			}
		}
	}
}

// RunOnce executes a single cycle immediately, used by the entrypoint to
// seed state before the first tick and by tests.
func (d *Daemon) RunOnce(ctx context.Context) error {
	if err := d.cycle.Run(ctx); err != nil {
		return fmt.Errorf("ledgercored: initial cycle: %w", err)
	}
	return nil
}
