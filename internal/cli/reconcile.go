package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/reconcile"
	"github.com/pendergraft/deployrecon/internal/report"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

// offlineVerifier stands in for the explorer when no API key is set.
type offlineVerifier struct{}

func (offlineVerifier) Verify(ctx context.Context, req verification.VerifyRequest) (*verification.Result, error) {
	return &verification.Result{Outcome: verification.OutcomeNotAttempted, Reason: "no explorer API key"}, nil
}

func (offlineVerifier) Status(ctx context.Context, address string) (*verification.Result, error) {
	return &verification.Result{Outcome: verification.OutcomeNotAttempted, Reason: "no explorer API key"}, nil
}

type reconcileOptions struct {
	artifact  string
	address   string
	args      []string
	libraries map[string]string
	submit    bool
	noChecks  bool
	format    string
	out       string
	record    bool
	payload   payloadFlags
}

func createReconcileCmd() *cobra.Command {
	var opts reconcileOptions

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check a deployment against the local build",
		Long: `Reconcile a deployed contract against its build artifact.

Reads the deployed bytecode once, compares it with the artifact ignoring the
compiler metadata trailer, runs the configured state checks and asks the
explorer whether the source is verified. With --submit, unverified source is
submitted. Exits non-zero unless the bytecode matches, every check passes
and the explorer holds verified source.

EXAMPLES:
  deployrecon reconcile --network base
  deployrecon reconcile --address 0x1234... --format json --out report.json
  deployrecon reconcile --submit
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.artifact, "artifact", "a", "", "artifact as <source path>:<contract> (default from config)")
	cmd.Flags().StringVar(&opts.address, "address", "", "contract address (default: the manifest's)")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "constructor argument, repeat in ABI order (default: the manifest's)")
	cmd.Flags().StringToStringVar(&opts.libraries, "library", nil, "linked library as <path>:<Name>=<address> (default from config)")
	cmd.Flags().BoolVar(&opts.submit, "submit", false, "submit unverified source to the explorer")
	cmd.Flags().BoolVar(&opts.noChecks, "no-checks", false, "skip the configured state checks")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "report format: text, json or yaml")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the report to file (default: stdout)")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record the run in the history store")
	opts.payload.register(cmd)

	return cmd
}

func runReconcile(cmd *cobra.Command, opts *reconcileOptions) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id, err := a.artifactRef(opts.artifact)
	if err != nil {
		return err
	}
	artifact, err := a.loadArtifact(id)
	if err != nil {
		return err
	}
	fs, err := a.manifests()
	if err != nil {
		return err
	}

	req := reconcile.Request{
		Network:         a.network,
		Artifact:        artifact,
		Address:         opts.address,
		ConstructorArgs: opts.args,
		Libraries:       opts.libraries,
		Submit:          opts.submit,
		LicenseType:     a.licenseType(&opts.payload),
	}
	if req.Libraries == nil {
		req.Libraries = a.project.Contract.Libraries
	}
	if req.ConstructorArgs == nil && deployedManifest(ctx, fs, a.network.Name, id) == nil {
		req.ConstructorArgs = deployments.Values(a.project.Contract.ConstructorArgs)
	}
	if !opts.noChecks {
		req.Checks = a.project.StateChecks()
	}
	if opts.submit {
		if req.Settings, err = opts.payload.settings(cmd, artifact); err != nil {
			return err
		}
		if req.Input, req.FlattenedSource, err = a.payload(&opts.payload, id); err != nil {
			return err
		}
	}

	reader, client, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var runs reconcile.RunStore
	var attempts verification.AttemptStore
	if opts.record {
		st, err := a.history(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		runs, attempts = st, st
	}

	var verifier reconcile.Verifier = offlineVerifier{}
	if explorer, err := a.explorer(); err == nil {
		verifier = a.verifier(explorer, reader, attempts)
	} else if opts.submit {
		return err
	} else {
		a.logger.Warn("explorer status will not be checked", "error", err)
	}

	svc := reconcile.LoggingMiddleware(a.logger)(
		reconcile.NewService(reader, fs, verifier, runs, reconcile.Options{
			CheckConcurrency: a.cfg.Chain.CheckConcurrency,
		}, a.logger),
	)
	rep, err := svc.Reconcile(ctx, req)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := report.Write(w, rep, format); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if opts.out != "" {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", opts.out)
	}
	if !rep.Overall {
		return ErrRunFailed
	}
	return nil
}
