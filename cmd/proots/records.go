package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/model"
	"github.com/Proots-Foundation/pRoots-command-line/proots"
)

func cmdBuild(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("build", errOut)
	var common commonFlags
	var (
		addr   string
		seq    string
		annots []string
		input  string
		asJSON bool
	)
	fs.StringVar(&addr, "addr", "", "sequence address")
	fs.StringVar(&seq, "seq", "", "raw sequence")
	fs.StringArrayVar(&annots, "annot", nil, "annotation addr:from:end:comment (repeatable)")
	fs.StringVar(&input, "input", "", "JSON sequence file (- for stdin) instead of --addr/--seq/--annot")
	fs.BoolVar(&asJSON, "json", false, "print the root and annotation CIDs as JSON")
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: proots build --addr <addr> --seq <sequence> [--annot addr:from:end:comment ...]")
		return 2
	}

	s, err := sequenceFromFlags(addr, seq, annots, input)
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	root, err := s.Build(ctx, sess.store, sess.options()...)
	if err != nil {
		return fail(errOut, err)
	}
	if !asJSON {
		_, _ = fmt.Fprintln(out, root.String())
		return 0
	}
	shallow, err := proots.ResolveShallow(ctx, root, sess.store, sess.options()...)
	if err != nil {
		return fail(errOut, err)
	}
	return writeJSON(out, errOut, model.NewBuildResponse(root, shallow))
}

func sequenceFromFlags(addr, seq string, annots []string, input string) (proots.Sequence, error) {
	if input != "" {
		if addr != "" || seq != "" || len(annots) > 0 {
			return proots.Sequence{}, fmt.Errorf("%w: --input cannot be combined with --addr, --seq or --annot", errUsage)
		}
		b, err := readInput(input)
		if err != nil {
			return proots.Sequence{}, err
		}
		var v model.SequenceView
		if err := json.Unmarshal(b, &v); err != nil {
			return proots.Sequence{}, fmt.Errorf("%w: %s: %v", errUsage, input, err)
		}
		s, err := v.ToSequence()
		if err != nil {
			return proots.Sequence{}, fmt.Errorf("%w: %v", errUsage, err)
		}
		return s, nil
	}

	if addr == "" {
		return proots.Sequence{}, fmt.Errorf("%w: missing --addr", errUsage)
	}
	s := proots.NewSequence(addr, seq)
	for _, arg := range annots {
		a, err := parseAnnotation(arg)
		if err != nil {
			return proots.Sequence{}, err
		}
		s.Annotations = append(s.Annotations, proots.Materialized(a))
	}
	return s, nil
}

// parseAnnotation reads "addr:from:end:comment". The comment may itself
// contain colons.
func parseAnnotation(arg string) (proots.Annotation, error) {
	parts := strings.SplitN(arg, ":", 4)
	if len(parts) != 4 {
		return proots.Annotation{}, fmt.Errorf("%w: --annot %q: want addr:from:end:comment", errUsage, arg)
	}
	from, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return proots.Annotation{}, fmt.Errorf("%w: --annot %q: from: %v", errUsage, arg, err)
	}
	end, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return proots.Annotation{}, fmt.Errorf("%w: --annot %q: end: %v", errUsage, arg, err)
	}
	a, err := proots.NewAnnotation(parts[0], from, end, parts[3])
	if err != nil {
		return proots.Annotation{}, fmt.Errorf("%w: --annot %q: %v", errUsage, arg, err)
	}
	return a, nil
}

func cmdResolve(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("resolve", errOut)
	var common commonFlags
	var shallow, asJSON bool
	fs.BoolVar(&shallow, "shallow", false, "fetch only the sequence record; print annotation CIDs")
	fs.BoolVar(&asJSON, "json", false, "print JSON")
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots resolve <cid> [--shallow] [--json]")
		return 2
	}
	root, err := parseCIDArg(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	resolve := proots.Resolve
	if shallow {
		resolve = proots.ResolveShallow
	}
	s, err := resolve(ctx, root, sess.store, sess.options()...)
	if err != nil {
		return fail(errOut, err)
	}

	view := model.FromSequence(s, root)
	if asJSON {
		return writeJSON(out, errOut, view)
	}
	printSequence(out, view)
	return 0
}

func printSequence(w io.Writer, v model.SequenceView) {
	_, _ = fmt.Fprintf(w, "cid:         %s\n", v.CID)
	_, _ = fmt.Fprintf(w, "address:     %s\n", v.Address)
	_, _ = fmt.Fprintf(w, "sequence:    %s\n", v.Sequence)
	_, _ = fmt.Fprintf(w, "annotations: %d\n", len(v.Annotations))
	for i, a := range v.Annotations {
		if a.Address == "" && a.Comment == "" && a.CID != "" {
			_, _ = fmt.Fprintf(w, "  [%d] %s\n", i, a.CID)
			continue
		}
		_, _ = fmt.Fprintf(w, "  [%d] %s %d..%d %q\n", i, a.Address, a.From, a.End, a.Comment)
	}
}

func cmdAnnotate(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("annotate", errOut)
	var common commonFlags
	var (
		addr, comment string
		from, end     uint64
	)
	fs.StringVar(&addr, "addr", "", "annotation address")
	fs.Uint64Var(&from, "from", 0, "start offset")
	fs.Uint64Var(&end, "end", 0, "end offset")
	fs.StringVar(&comment, "comment", "", "annotation comment")
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: proots annotate <cid> --addr <addr> --from <n> --end <n> --comment <text>")
		return 2
	}
	root, err := parseCIDArg(fs.Arg(0))
	if err != nil {
		return fail(errOut, err)
	}

	sess, err := common.open(errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer closeSession(sess, errOut)

	next, err := annotate(ctx, sess, root, addr, from, end, comment)
	if err != nil {
		return fail(errOut, err)
	}
	_, _ = fmt.Fprintln(out, next.String())
	return 0
}

// annotate appends one annotation to the sequence at root and returns the
// new sequence's CID. Existing annotations are relinked without fetching.
func annotate(ctx context.Context, sess *session, root cid.Cid, addr string, from, end uint64, comment string) (cid.Cid, error) {
	s, err := proots.ResolveShallow(ctx, root, sess.store, sess.options()...)
	if err != nil {
		return cid.Undef, err
	}
	next, err := s.AddAnnotation(addr, from, end, comment)
	if err != nil {
		return cid.Undef, err
	}
	return next.Build(ctx, sess.store, sess.options()...)
}

func writeJSON(out, errOut io.Writer, v any) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(errOut, "encode json: %v\n", err)
		return 1
	}
	return 0
}
