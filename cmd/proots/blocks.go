package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
)

func cmdBlock(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: proots block <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: put, get, has")
		return 2
	}
	switch args[0] {
	case "put":
		return cmdBlockPut(ctx, args[1:], out, errOut)
	case "get":
		return cmdBlockGet(ctx, args[1:], out, errOut)
	case "has":
		return cmdBlockHas(ctx, args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown block subcommand: %s\n", args[0])
		return 2
	}
}

func cmdBlockPut(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("block put", errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots block put [common flags] <file|->")
		return 2
	}
	b, err := readInput(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	id, err := sess.store.Put(ctx, b)
	if err != nil {
		return fail(errOut, err)
	}
	_, _ = fmt.Fprintln(out, id.String())
	return 0
}

func cmdBlockGet(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("block get", errOut)
	var common commonFlags
	var outPath string
	fs.StringVar(&outPath, "out", "", "output file (default stdout)")
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots block get [common flags] <cid> [--out <file>]")
		return 2
	}
	id, err := parseCIDArg(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	b, err := sess.store.Get(ctx, id)
	if err != nil {
		return fail(errOut, err)
	}
	if outPath == "" {
		_, _ = out.Write(b)
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o600); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

func cmdBlockHas(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("block has", errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots block has [common flags] <cid>")
		return 2
	}
	id, err := parseCIDArg(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	ok, err := sess.store.Has(ctx, id)
	if err != nil {
		return fail(errOut, err)
	}
	_, _ = fmt.Fprintln(out, ok)
	if !ok {
		return 1
	}
	return 0
}

// cmdCID prints the CID a file would be stored under, without a store.
func cmdCID(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("cid", errOut)
	var prefix prefixFlags
	prefix.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots cid [--codec <name>] [--hash <name>] <file|->")
		return 2
	}
	_, p, err := prefix.resolve()
	if err != nil {
		return fail(errOut, err)
	}
	b, err := readInput(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}
	id, err := cidutil.Sum(p, b)
	if err != nil {
		return fail(errOut, err)
	}
	_, _ = fmt.Fprintln(out, id.String())
	return 0
}
