package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"utilitysign/internal/bankid"
	"utilitysign/internal/formstate"
	"utilitysign/internal/model"
	"utilitysign/internal/schema"
	"utilitysign/internal/signing"
	"utilitysign/internal/workflow"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type signOptions struct {
	file    string
	form    string
	noPopup bool
	values  map[string]*string
	checked map[string]*bool
}

func newSignCmd() *cobra.Command {
	opts := &signOptions{
		values:  make(map[string]*string),
		checked: make(map[string]*bool),
	}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a document with BankID from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log.Level, true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := buildCore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return runSign(ctx, cmd, c, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "document to sign")
	cmd.Flags().StringVar(&opts.form, "form", "", "JSON form snapshot ({\"values\":{},\"checked\":{}})")
	cmd.Flags().BoolVar(&opts.noPopup, "no-popup", false, "behave as if the BankID popup was blocked")
	_ = cmd.MarkFlagRequired("file")
	for _, f := range model.TextFields {
		opts.values[f.Name] = cmd.Flags().String(f.Name, "", "form field "+f.Name)
	}
	for _, f := range model.BoolFields {
		opts.checked[f.Name] = cmd.Flags().Bool(f.Name, false, "form checkbox "+f.Name)
	}
	return cmd
}

// snapshot merges the --form file with the field flags; flags win
func (o *signOptions) snapshot(ctx context.Context, cmd *cobra.Command) (formstate.Snapshot, error) {
	snap := formstate.Snapshot{Values: map[string]string{}, Checked: map[string]bool{}}
	if o.form != "" {
		data, err := os.ReadFile(o.form)
		if err != nil {
			return snap, fmt.Errorf("failed to read form: %w", err)
		}
		if err := schema.NewCompilerWithCache(1).Validate(ctx, schema.SnapshotSchema, data); err != nil {
			return snap, err
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return snap, fmt.Errorf("failed to decode form: %w", err)
		}
		if snap.Values == nil {
			snap.Values = map[string]string{}
		}
		if snap.Checked == nil {
			snap.Checked = map[string]bool{}
		}
	}
	for name, v := range o.values {
		if cmd.Flags().Changed(name) {
			snap.Values[name] = *v
		}
	}
	for name, v := range o.checked {
		if cmd.Flags().Changed(name) {
			snap.Checked[name] = *v
		}
	}
	return snap, nil
}

// eventSink hands workflow events to the waiting command
type eventSink chan map[string]interface{}

func (s eventSink) PublishWorkflow(workflowID string, event map[string]interface{}) error {
	select {
	case s <- event:
	default:
	}
	return nil
}

// syncNotifier triggers completion before the poll result is reported, so the
// command does not exit ahead of it
type syncNotifier struct {
	client *signing.Client
}

func (n syncNotifier) NotifyCompleted(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n.client.TriggerSigningCompletion(ctx, requestID)
}

func runSign(ctx context.Context, cmd *cobra.Command, c *core, opts *signOptions, logger *zap.Logger) error {
	out := cmd.OutOrStdout()
	snap, err := opts.snapshot(ctx, cmd)
	if err != nil {
		return err
	}

	term := newTerminal(cmd.InOrStdin(), out, !opts.noPopup)
	events := make(eventSink, 64)
	ctrl := workflow.New(ulid.Make().String(), workflow.Deps{
		Signing:   c.client,
		Products:  c.products,
		Documents: c.docs,
		Preview:   c.renderer,
		Launcher:  bankid.NewLauncher(term, term, logger),
		Poller:    bankid.NewPoller(c.client, syncNotifier{client: c.client}, c.poller, logger),
		Events:    events,
		Log:       logger,
	})
	defer ctrl.Close()

	f, err := os.Open(opts.file)
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(opts.file))
	_, err = ctrl.Upload(ctx, filepath.Base(opts.file), contentType, f)
	f.Close()
	if err != nil {
		return err
	}

	ctrl.Form().Set(formstate.Reconcile(snap, model.FormData{}))
	summary, err := ctrl.Preview(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, summary)
	if err := ctrl.ConfirmPreview(); err != nil {
		return err
	}

	res, err := ctrl.Submit(ctx, formstate.StaticSource(snap))
	var validationErr *workflow.ValidationError
	if errors.As(err, &validationErr) {
		printFieldErrors(cmd, validationErr.Fields)
		return err
	}
	if err != nil {
		if msg := ctrl.State().Error; msg != "" {
			fmt.Fprintln(out, msg)
		}
		return err
	}

	switch res.Outcome {
	case bankid.Declined:
		fmt.Fprintln(out, res.Message)
		return errors.New("signing not started")
	case bankid.Redirected:
		fmt.Fprintln(out, "Fullfør signeringen i nettleseren.")
		return nil
	}

	go term.watchClose(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			switch ev["type"] {
			case "signing.completed":
				st := ctrl.State()
				fmt.Fprintln(out, "Dokumentet er signert.")
				if st.Signer != nil && st.Signer.Name != "" {
					fmt.Fprintf(out, "Signert av %s\n", st.Signer.Name)
				}
				return nil
			case "signing.failed", "signing.cancelled":
				fmt.Fprintln(out, ctrl.State().Error)
				return fmt.Errorf("signing %v", ev["status"])
			case "signing.timeout":
				fmt.Fprintln(out, "Tidsfristen for signeringen gikk ut.")
				return errors.New("signing timed out")
			}
		}
	}
}

func printFieldErrors(cmd *cobra.Command, fields map[string]string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(cmd.ErrOrStderr(), workflow.MsgInvalidForm)
	for _, name := range names {
		fmt.Fprintf(cmd.ErrOrStderr(), "  --%s: %s\n", name, fields[name])
	}
}
