package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/InvoiceBox/internal/client/uploader"
	"github.com/BearBump/InvoiceBox/internal/sse"
	"github.com/BearBump/InvoiceBox/internal/validate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type uploadOpts struct {
	server     string
	startIndex int
	backoff    time.Duration
	maxRecords int
	quiet      bool
}

func bindFlags(fs *pflag.FlagSet, o *uploadOpts) {
	fs.StringVarP(&o.server, "server", "s", "http://localhost:8080", "invoice-api base URL")
	fs.IntVar(&o.startIndex, "start-index", 0, "first record to send (resume a broken upload)")
	fs.DurationVar(&o.backoff, "backoff", uploader.DefaultBackoff, "pause before reconnecting after a resume checkpoint")
	fs.IntVar(&o.maxRecords, "max-records", 0, "reject files with more records (0 = unbounded)")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "do not print progress")
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &uploadOpts{}
	cmd := &cobra.Command{
		Use:           "invoice-upload <file.json>",
		Short:         "Upload a JSON array of invoice records and follow the progress stream",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), opts, args[0], stdout, stderr)
		},
	}
	bindFlags(cmd.Flags(), opts)
	return cmd
}

func runUpload(ctx context.Context, opts *uploadOpts, path string, stdout, stderr io.Writer) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	// та же проверка, что и на сервере: кривой файл не уходит в сеть
	records, err := validate.New().WithMaxRecords(opts.maxRecords).Records(body)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			for _, p := range verr.Problems() {
				fmt.Fprintf(stderr, "  %s\n", p.Error())
			}
			return errors.New(validate.Message)
		}
		return err
	}

	up := uploader.New(opts.server, &http.Client{}).WithBackoff(opts.backoff)
	if !opts.quiet {
		up = up.WithReporter(&stderrReporter{w: stderr})
	}

	res, err := up.Upload(ctx, records, opts.startIndex)
	if res != nil {
		printSummary(stdout, res)
	}
	if err != nil {
		var uerr *uploader.UploadError
		if errors.As(err, &uerr) && uerr.Details != nil {
			if raw, jerr := json.MarshalIndent(uerr.Details, "  ", "  "); jerr == nil {
				fmt.Fprintf(stderr, "  %s\n", raw)
			}
		}
		return err
	}
	return nil
}

type stderrReporter struct {
	w    io.Writer
	last int
}

func (r *stderrReporter) ReportProgress(percent int, ev sse.Progress) {
	if percent == r.last && percent != 100 {
		return
	}
	r.last = percent
	fmt.Fprintf(r.w, "\r%3d%% %d/%d %s", percent, ev.Processed, ev.Total, ev.CurrentInvoiceID)
	if ev.Processed == ev.Total {
		fmt.Fprintln(r.w)
	}
}

func printSummary(w io.Writer, res *uploader.Result) {
	fmt.Fprintf(w, "uploaded %d of %d records in %d attempt(s)\n", res.Succeeded, res.Total, res.Attempts)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  failed %s: %s\n", e.InvoiceID, e.Error)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
