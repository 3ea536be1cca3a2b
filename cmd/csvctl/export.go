package main

import (
	"bufio"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

type exportOptions struct {
	typeName     string
	view         string
	separator    string
	output       string
	bom          bool
	noLineBreaks bool
}

func exportCmd() *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a record type as delimited text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.typeName, "type", "t", "", "Record type to export (required)")
	cmd.Flags().StringVar(&opts.view, "view", "", "View to export (default from EXPORT_VIEW)")
	cmd.Flags().StringVar(&opts.separator, "separator", "", "Field separator (default from EXPORT_SEPARATOR)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().BoolVar(&opts.bom, "bom", false, "Write a UTF-8 byte-order mark first")
	cmd.Flags().BoolVar(&opts.noLineBreaks, "no-line-breaks", false, "Remove line breaks from values")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runExport(cmd *cobra.Command, opts exportOptions) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	defaults := e.cfg.Export
	sep, err := runeFlag("separator", opts.separator, defaults.SeparatorRune())
	if err != nil {
		return err
	}
	req := core.ExportRequest{
		TypeName: opts.typeName,
		Options: core.ExportOptions{
			Separator:       sep,
			View:            defaults.View,
			StripLineBreaks: defaults.StripLineBreaks || opts.noLineBreaks,
			WriteBOM:        defaults.WriteBOM || opts.bom,
		},
	}
	if opts.view != "" {
		req.Options.View = opts.view
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "-" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	// The encoder flushes a writer after every line. Hiding bw's Flush
	// batches lines into fewer writes.
	bw := bufio.NewWriter(out)
	n, err := e.service.Export(ctx, struct{ io.Writer }{bw}, req)
	if flushErr := bw.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		return err
	}
	e.logger.Info("export finished", "type", req.TypeName, "view", req.Options.View, "rows", n)
	return nil
}
