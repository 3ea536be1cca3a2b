package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

type importOptions struct {
	typeName       string
	separator      string
	quote          string
	periodicCommit bool
	commitInterval int
	rowRange       string
	streamChunks   bool
}

func importCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a delimited text file",
		Long: `Import a delimited text file into a record type. Use - to read stdin.
The result is printed as JSON; the exit status is non-zero if the import was
aborted or any row failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.typeName, "type", "t", "", "Record type to import (required)")
	cmd.Flags().StringVar(&opts.separator, "separator", "", "Field separator (default from IMPORT_SEPARATOR)")
	cmd.Flags().StringVar(&opts.quote, "quote", "", "Quote character (default from IMPORT_QUOTE)")
	cmd.Flags().BoolVar(&opts.periodicCommit, "periodic-commit", false, "Commit in chunks instead of one transaction")
	cmd.Flags().IntVar(&opts.commitInterval, "commit-interval", 0, "Rows per chunk (default from IMPORT_COMMIT_INTERVAL)")
	cmd.Flags().StringVar(&opts.rowRange, "range", "", "Data rows to import, e.g. 10-20 or 5-")
	cmd.Flags().BoolVar(&opts.streamChunks, "stream-chunks", false, "Read chunks incrementally; totals are reported as 0")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runImport(cmd *cobra.Command, path string, opts importOptions) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	req, err := opts.request(e.cfg.Import.SeparatorRune(), e.cfg.Import.QuoteRune(), e.cfg.Import.CommitInterval)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("periodic-commit") {
		req.PeriodicCommit = e.cfg.Import.PeriodicCommit
	}
	if !cmd.Flags().Changed("stream-chunks") {
		req.StreamChunks = e.cfg.Import.StreamChunks
	}

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			req.Size = info.Size()
		}
		in = f
	}

	events, unsubscribe := e.service.Hub().SubscribeAll()
	sink := core.LogSink(e.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			sink.Publish(ev)
		}
	}()

	result, importErr := e.service.Import(ctx, req, in)
	unsubscribe()
	<-done

	if result != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return importOutcome(result, importErr)
}

// importOutcome turns a finished import into the command's error. Rows that
// failed on their own, without aborting the job, are reported together.
func importOutcome(result *core.ImportResult, importErr error) error {
	if importErr != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(importErr), importErr)
	}
	if result == nil {
		return nil
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("%d of %d rows failed: %w", result.Failed, result.Count(), err)
	}
	return nil
}

// request builds the import request, filling unset options from the
// configured defaults.
func (o importOptions) request(sep, quote rune, interval int) (core.ImportRequest, error) {
	req := core.ImportRequest{
		TypeName:       o.typeName,
		Separator:      sep,
		Quote:          quote,
		PeriodicCommit: o.periodicCommit,
		ChunkSize:      interval,
		Range:          o.rowRange,
		StreamChunks:   o.streamChunks,
	}

	var err error
	if req.Separator, err = runeFlag("separator", o.separator, sep); err != nil {
		return req, err
	}
	if req.Quote, err = runeFlag("quote", o.quote, quote); err != nil {
		return req, err
	}
	if o.commitInterval < 0 {
		return req, &core.OptionError{Option: "commit-interval", Err: fmt.Errorf("must be positive, got %d", o.commitInterval)}
	}
	if o.commitInterval > 0 {
		req.ChunkSize = o.commitInterval
	}
	return req, nil
}

// runeFlag returns the single character of v, or def when v is empty.
// "\t" and "tab" name the tab character.
func runeFlag(name, v string, def rune) (rune, error) {
	switch v {
	case "":
		return def, nil
	case `\t`, "tab":
		return '\t', nil
	}
	r := []rune(v)
	if len(r) != 1 {
		return 0, &core.OptionError{Option: name, Err: fmt.Errorf("must be a single character, got %q", v)}
	}
	return r[0], nil
}
