// Package opsserver serves the operational HTTP surface: liveness,
// readiness, metrics and a read-only view of the persisted stream records.
// It is not the reconciliation path; nothing here mutates anything.
package opsserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"streamop/internal/metrics"
	"streamop/internal/store/recordstore"
	"streamop/pkg/logging"
)

const subsystem = "opsserver"

const shutdownGrace = 10 * time.Second

// RecordReader is the read side of the record store.
type RecordReader interface {
	KnownNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// Server is the operational endpoint. Readiness starts false and flips when
// SetReady is called, after the startup sweep.
type Server struct {
	echo  *echo.Echo
	addr  string
	ready atomic.Bool
}

// New assembles the server. metrics may be nil; the metrics endpoint then
// serves an empty registry.
func New(addr string, m *metrics.Metrics, records RecordReader) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(logRequests)

	s := &Server{echo: e, addr: addr}
	e.GET("/healthz", s.health)
	e.GET("/readyz", s.readiness)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/api/v1/records", listRecords(records))
	e.GET("/api/v1/records/:name", getRecord(records))
	return s
}

// SetReady flips the readiness endpoint. The bootstrap calls it once the
// startup sweep finished, so load balancers hold traffic until the stores
// saw a first convergence.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logging.Info(subsystem, "Operational endpoints on %s", s.addr)

	errc := make(chan error, 1)
	go func() {
		err := s.echo.Start(s.addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("ops server on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shut down ops server: %w", err)
	}
	<-errc
	return ctx.Err()
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readiness(c echo.Context) error {
	if !s.ready.Load() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func listRecords(records RecordReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		names, err := records.KnownNames(c.Request().Context())
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		slices.Sort(names)
		return c.JSON(http.StatusOK, map[string][]string{"records": names})
	}
}

func getRecord(records RecordReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		data, err := records.Get(c.Request().Context(), name)
		if errors.Is(err, recordstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no record for %q", name))
		}
		if err != nil {
			return fmt.Errorf("fetch record %q: %w", name, err)
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

func logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			logging.Warn(subsystem, "%s %s failed: %v", c.Request().Method, c.Request().URL.Path, err)
			return err
		}
		logging.Debug(subsystem, "%s %s -> %d", c.Request().Method, c.Request().URL.Path, c.Response().Status)
		return nil
	}
}
