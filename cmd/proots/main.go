// Command proots builds and resolves pRoots sequence records against a
// content-addressed store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "build":
		return cmdBuild(ctx, args[1:], out, errOut)
	case "resolve":
		return cmdResolve(ctx, args[1:], out, errOut)
	case "annotate":
		return cmdAnnotate(ctx, args[1:], out, errOut)
	case "block":
		return cmdBlock(ctx, args[1:], out, errOut)
	case "bundle":
		return cmdBundle(ctx, args[1:], out, errOut)
	case "cid":
		return cmdCID(args[1:], out, errOut)
	case "backends":
		printBackends(out)
		return 0
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "proots: build and resolve pRoots sequence records")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  proots build --addr <addr> --seq <sequence> [--annot addr:from:end:comment ...] [--json]")
	fmt.Fprintln(w, "  proots build --input <sequence.json> [--json]")
	fmt.Fprintln(w, "  proots resolve <cid> [--shallow] [--json]")
	fmt.Fprintln(w, "  proots annotate <cid> --addr <addr> --from <n> --end <n> --comment <text>")
	fmt.Fprintln(w, "  proots block put <file|->")
	fmt.Fprintln(w, "  proots block get <cid> [--out <file>]")
	fmt.Fprintln(w, "  proots block has <cid>")
	fmt.Fprintln(w, "  proots bundle export --out <file.tar> [--recursive=false] [--label name=cid ...] <cid> [<cid> ...]")
	fmt.Fprintln(w, "  proots bundle import [--ignore-unknown] <file.tar>")
	fmt.Fprintln(w, "  proots cid [--codec dag-cbor|dag-json] [--hash sha2-256|blake3|blake2b-256] <file|->")
	fmt.Fprintln(w, "  proots backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fmt.Fprintln(w, "  --backend <name>      store backend (default localfs; see 'proots backends')")
	fmt.Fprintln(w, "  --config <file>       store config (.json, .jsonc, .toml, .yaml)")
	fmt.Fprintln(w, "  --codec, --hash       CID prefix for new records")
	fmt.Fprintln(w, "  --concurrency <n>     parallel annotation fetches/stores (default 16)")
	fmt.Fprintln(w, "  --log-level, --log-format")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit status: 0 success, 1 operation failed, 2 usage error.")
}
