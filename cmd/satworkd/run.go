package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/events"
	"github.com/satwork/satwork/invoicer"
	"github.com/satwork/satwork/journal"
	"github.com/satwork/satwork/journal/fsjournal"
	"github.com/satwork/satwork/loader"
	"github.com/satwork/satwork/metrics"
	"github.com/satwork/satwork/node/config"
	"github.com/satwork/satwork/payout"
	"github.com/satwork/satwork/relay"
	"github.com/satwork/satwork/sysactor"
	"github.com/satwork/satwork/workflow"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the satwork daemon",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "read-only",
			Usage: "observe and reconcile state without acting as the system signer",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, cancel := context.WithCancel(cctx.Context)
		defer cancel()

		cfg, err := config.FromFile(cctx.String("config"))
		if err != nil {
			return err
		}
		if len(cfg.Relays.URLs) == 0 {
			return xerrors.New("no relays configured")
		}
		if cfg.System.SignerPubKey == "" {
			return xerrors.New("config: System.SignerPubKey is required")
		}

		if err := view.Register(metrics.DefaultViews...); err != nil {
			return xerrors.Errorf("registering metric views: %w", err)
		}

		jrnl, err := openJournal(cfg.Journal)
		if err != nil {
			return err
		}
		defer jrnl.Close() //nolint:errcheck

		rc, err := relay.NewClient(cfg.Relays.URLs)
		if err != nil {
			return err
		}
		rc.QueryTimeout = time.Duration(cfg.Load.BulkQueryTimeout)
		if err := rc.Dial(ctx); err != nil {
			return xerrors.Errorf("dialing relays: %w", err)
		}
		defer rc.Close() //nolint:errcheck

		gateway := invoicer.NewGateway()
		payer := invoicer.NewClient(cfg.Payments.Endpoint, cfg.Payments.APIKey)

		var signerKey *btcec.PrivateKey
		if !cctx.Bool("read-only") && cfg.System.SignerKey != "" {
			signerKey, err = events.ParsePrivateKey(cfg.System.SignerKey)
			if err != nil {
				return xerrors.Errorf("parsing system signer key: %w", err)
			}
			if pk := events.PubKeyHex(signerKey); pk != cfg.System.SignerPubKey {
				return xerrors.Errorf("signer key does not match System.SignerPubKey (derived %s)", pk)
			}
		}

		errs := make(chan error, len(workflow.AllTypes)+1)
		for _, wtype := range workflow.AllTypes {
			pol, _ := workflow.PolicyFor(wtype)
			store := workflow.NewStore(wtype)
			engine := workflow.NewEngine(pol, store, cfg.System.SignerPubKey, jrnl)

			ld := loader.New(rc, engine, string(wtype))
			if cfg.Load.RetryAttempts > 0 {
				ld.MaxAttempts = cfg.Load.RetryAttempts
			}
			if cfg.Load.RetryMin > 0 {
				ld.RetryMin = time.Duration(cfg.Load.RetryMin)
			}
			if cfg.Load.RetryMax > 0 {
				ld.RetryMax = time.Duration(cfg.Load.RetryMax)
			}

			if signerKey != nil {
				coord := payout.NewCoordinator(payer, string(wtype))
				actor := sysactor.New(signerKey, wtype, rc, ld, coord)
				gateway.SetConfirmer(string(wtype), actor)
				store.SubscribeChanges(func(ch workflow.Change) {
					actor.HandleChange(ctx, ch)
				})
			}

			go func(wtype workflow.Type, ld *loader.Loader) {
				if err := ld.Run(ctx); err != nil && ctx.Err() == nil {
					errs <- xerrors.Errorf("%s loader: %w", wtype, err)
				}
			}(wtype, ld)
		}

		srv := &http.Server{
			Addr:    cfg.Payments.WebhookListenAddress,
			Handler: webhookRouter(gateway),
		}
		go func() {
			log.Infof("webhook listener on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- xerrors.Errorf("webhook listener: %w", err)
			}
		}()
		defer srv.Close() //nolint:errcheck

		sigc := make(chan os.Signal, 2)
		signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigc:
			log.Infow("shutting down", "signal", sig.String())
			return nil
		case err := <-errs:
			return err
		case <-ctx.Done():
			return nil
		}
	},
}

func webhookRouter(g *invoicer.Gateway) *mux.Router {
	r := mux.NewRouter()
	g.Routes(r)
	return r
}

func openJournal(cfg config.Journal) (journal.Journal, error) {
	if cfg.Path == "" {
		return journal.NilJournal(), nil
	}

	disabled := journal.EnvDisabledEvents()
	if cfg.DisabledEvents != "" {
		var err error
		disabled, err = journal.ParseDisabledEvents(cfg.DisabledEvents)
		if err != nil {
			return nil, xerrors.Errorf("parsing disabled journal events: %w", err)
		}
	}

	j, err := fsjournal.OpenFSJournal(cfg.Path, disabled)
	if err != nil {
		return nil, xerrors.Errorf("opening journal at %s: %w", cfg.Path, err)
	}
	return j, nil
}
