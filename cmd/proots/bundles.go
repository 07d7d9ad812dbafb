package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/model"
	"github.com/Proots-Foundation/pRoots-command-line/storage/bundle"
)

func cmdBundle(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: proots bundle <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: export, import")
		return 2
	}
	switch args[0] {
	case "export":
		return cmdBundleExport(ctx, args[1:], out, errOut)
	case "import":
		return cmdBundleImport(ctx, args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown bundle subcommand: %s\n", args[0])
		return 2
	}
}

func cmdBundleExport(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("bundle export", errOut)
	var common commonFlags
	var (
		outPath   string
		recursive bool
		noIndex   bool
		labels    []string
	)
	fs.StringVar(&outPath, "out", "", "bundle file to write")
	fs.BoolVar(&recursive, "recursive", true, "include every block the roots link to")
	fs.BoolVar(&noIndex, "no-index", false, "omit index.json")
	fs.StringArrayVar(&labels, "label", nil, "name=cid label recorded in index.json (repeatable)")
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if outPath == "" || fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: proots bundle export --out <file.tar> <cid> [<cid> ...]")
		return 2
	}

	roots := make([]cid.Cid, 0, fs.NArg())
	for _, a := range fs.Args() {
		id, err := parseCIDArg(a)
		if err != nil {
			return fail(errOut, err)
		}
		roots = append(roots, id)
	}
	labelMap, err := parseLabels(labels)
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	f, err := os.Create(outPath)
	if err != nil {
		return fail(errOut, err)
	}
	opts := bundle.ExportOptions{Recursive: recursive, Labels: labelMap, IncludeIndex: !noIndex}
	if err := bundle.Export(ctx, f, sess.store, roots, opts); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return fail(errOut, err)
	}
	if err := f.Close(); err != nil {
		return fail(errOut, err)
	}
	return 0
}

func parseLabels(specs []string) (map[string]cid.Cid, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]cid.Cid, len(specs))
	for _, s := range specs {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: --label %q: want name=cid", errUsage, s)
		}
		id, err := parseCIDArg(value)
		if err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, nil
}

func cmdBundleImport(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("bundle import", errOut)
	var common commonFlags
	var ignoreUnknown, asJSON bool
	fs.BoolVar(&ignoreUnknown, "ignore-unknown", false, "skip unrecognized entries instead of failing")
	fs.BoolVar(&asJSON, "json", false, "print an import report as JSON")
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots bundle import [--ignore-unknown] <file.tar>")
		return 2
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}
	defer f.Close()

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	res, err := bundle.Import(ctx, f, sess.store, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
	if err != nil {
		return fail(errOut, err)
	}

	report := model.BundleReport{Blocks: len(res.Blocks), Roots: make([]string, 0, len(res.Roots))}
	for _, r := range res.Roots {
		report.Roots = append(report.Roots, r.String())
	}
	if len(res.Labels) > 0 {
		report.Labels = make(map[string]string, len(res.Labels))
		for k, v := range res.Labels {
			report.Labels[k] = v.String()
		}
	}
	if asJSON {
		return writeJSON(out, errOut, report)
	}
	_, _ = fmt.Fprintf(out, "imported %d blocks\n", report.Blocks)
	for _, r := range report.Roots {
		_, _ = fmt.Fprintf(out, "root %s\n", r)
	}
	return 0
}
