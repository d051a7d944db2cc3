// Package app assembles the operator from a loaded configuration and runs
// it: source, backend, stores, controller, dispatcher, sweeper and the
// operational endpoints, wired once and torn down together.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/labels"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"streamop/internal/backend/membackend"
	"streamop/internal/codec"
	"streamop/internal/config"
	"streamop/internal/metrics"
	"streamop/internal/operator"
	"streamop/internal/opsserver"
	"streamop/internal/pki"
	"streamop/internal/source"
	"streamop/internal/store/aclstore"
	"streamop/internal/store/recordstore"
	"streamop/internal/store/scramstore"
	"streamop/internal/store/secretstore"
	"streamop/pkg/logging"
)

const subsystem = "app"

// Application is the fully wired operator.
type Application struct {
	cfg        config.Config
	controller *operator.Controller
	dispatcher *operator.Dispatcher
	sweeper    *operator.Sweeper
	ops        *opsserver.Server

	closers []func()
}

// NewApplication wires every collaborator for the configured mode. The
// context only scopes connection setup, not the application lifetime.
func NewApplication(ctx context.Context, cfg config.Config) (*Application, error) {
	logging.InitForCLI(logging.ParseLevel(cfg.LogLevel), os.Stdout)

	if err := codec.ValidateAccessModes(); err != nil {
		return nil, fmt.Errorf("access mode registry: %w", err)
	}

	selector, err := labels.Parse(cfg.Selector)
	if err != nil {
		return nil, fmt.Errorf("stream selector %q: %w", cfg.Selector, err)
	}

	app := &Application{cfg: cfg}

	var src source.Source
	var status operator.StatusSyncer
	var secrets operator.SecretStore
	switch cfg.Mode {
	case config.ModeKubernetes:
		restConfig, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("cluster connection: %w", err)
		}
		k8s, err := source.NewKubernetesForConfig(restConfig)
		if err != nil {
			return nil, err
		}
		src = k8s
		status = k8s
		secrets = secretstore.NewKubernetes(k8s.Client(), cfg.Namespace, cfg.SecretPrefix)

	case config.ModeStandalone:
		fs, err := source.NewFilesystem(cfg.Source.Dir, cfg.Namespace, 0)
		if err != nil {
			return nil, err
		}
		src = fs
		secrets = secretstore.NewMemory(cfg.Namespace, cfg.SecretPrefix)

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	records, err := app.newRecordStore(ctx)
	if err != nil {
		return nil, err
	}

	issuer, err := pki.NewLocalCA(cfg.PKI.CACertFile, cfg.PKI.CAKeyFile)
	if err != nil {
		return nil, err
	}

	// The messaging backend is embedded: credentials, ACLs and topic
	// descriptions live in process.
	backend := membackend.New()
	var describer operator.BackendDescriber
	if cfg.Drift.Enabled {
		describer = backend
	}

	m := metrics.New()
	app.controller = operator.New(operator.Config{
		Source:       src,
		Status:       status,
		Credentials:  scramstore.New(backend),
		TLSACLs:      aclstore.New(backend, codec.AccessTLS),
		ScramACLs:    aclstore.New(backend, codec.AccessScramSHA512),
		Secrets:      secrets,
		Records:      records,
		Describer:    describer,
		Issuer:       issuer,
		Passwords:    pki.NewPasswordGenerator(),
		Metrics:      m,
		Namespace:    cfg.Namespace,
		Selector:     selector,
		SecretPrefix: cfg.SecretPrefix,
		LockTimeout:  cfg.LockTimeout.Duration,
		Workers:      cfg.Workers,
	})
	app.dispatcher = operator.NewDispatcher(src, app.controller, cfg.Namespace, selector, m)
	app.sweeper = operator.NewSweeper(app.controller, cfg.SweepInterval.Duration)
	app.ops = opsserver.New(cfg.Ops.Addr, m, records)

	return app, nil
}

func (a *Application) newRecordStore(ctx context.Context) (operator.RecordStore, error) {
	records, closeFn, err := OpenRecordStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
	return records, nil
}

// OpenRecordStore opens just the configured record store. The export
// command reads records without assembling the rest of the operator; the
// returned close function is nil for backends with nothing to release.
func OpenRecordStore(ctx context.Context, cfg config.Config) (operator.RecordStore, func(), error) {
	switch cfg.Records.Backend {
	case "postgres":
		store, err := recordstore.NewPostgres(ctx, cfg.Records.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := recordstore.NewFilesystem(cfg.Records.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// SweepOnce runs a single full reconciliation sweep and returns its
// summary. The long-running surfaces stay down; this is the sweep command's
// entry point.
func (a *Application) SweepOnce(ctx context.Context) (operator.SweepSummary, error) {
	sweep, err := a.controller.ReconcileAll(ctx, operator.TriggerManual)
	if err != nil {
		return operator.SweepSummary{}, err
	}
	if err := sweep.Wait(ctx); err != nil {
		return operator.SweepSummary{}, err
	}
	return sweep.Summary(), nil
}

// Run drives the operator until the context ends: operational endpoints
// first, a startup sweep that gates readiness, then the watch dispatcher
// and the periodic sweeper. A sweep that cannot even list fails Run; once
// past it, store failures are the sweeps' and reconciliations' business.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.ops.Run(groupCtx) })

	a.controller.Start(groupCtx)
	defer a.controller.Stop()

	if err := a.startupSweep(groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	a.ops.SetReady(true)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug(subsystem, "sd_notify not delivered: %v", err)
	}

	group.Go(func() error { return a.dispatcher.Run(groupCtx) })
	group.Go(func() error { return a.sweeper.Run(groupCtx) })

	err := group.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if errors.Is(err, context.Canceled) {
		logging.Info(subsystem, "Shutting down")
		return nil
	}
	return err
}

func (a *Application) startupSweep(ctx context.Context) error {
	sweep, err := a.controller.ReconcileAll(ctx, operator.TriggerStartup)
	if err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}
	if err := sweep.Wait(ctx); err != nil {
		return err
	}
	summary := sweep.Summary()
	logging.Info(subsystem, "Startup sweep finished: %s", summary)
	if summary.Failed > 0 {
		logging.Warn(subsystem, "%d streams did not converge at startup, the periodic sweep retries them", summary.Failed)
	}
	return nil
}

func (a *Application) close() {
	for _, closeFn := range a.closers {
		closeFn()
	}
}
