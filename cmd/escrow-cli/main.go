package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"escrowledger/rpc/client"
)

const (
	rpcURLEnv     = "RPC_URL"
	rpcTokenEnv   = "ESCROW_RPC_TOKEN"
	keyPassEnv    = "ESCROW_KEY_PASS"
	defaultRPCURL = "http://127.0.0.1:8545"
	callTimeout   = 30 * time.Second
)

// Overridable from tests.
var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv(rpcTokenEnv)
	newRPCClient = client.New
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "fulfill":
		return runFulfill(args[1:], stdout, stderr)
	case "release":
		return runRelease(args[1:], stdout, stderr)
	case "refund":
		return runRefund(args[1:], stdout, stderr)
	case "add-auditor":
		return runAddAuditor(args[1:], stdout, stderr)
	case "set-admin":
		return runSetAdmin(args[1:], stdout, stderr)
	case "pause":
		return runPause(args[1:], stdout, stderr, true)
	case "unpause":
		return runPause(args[1:], stdout, stderr, false)
	case "register-verifier":
		return runRegisterVerifier(args[1:], stdout, stderr)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "condition":
		return runCondition(args[1:], stdout, stderr)
	case "auditors":
		return runAuditors(args[1:], stdout, stderr)
	case "verifier":
		return runVerifier(args[1:], stdout, stderr)
	case "totals":
		return runTotals(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "account":
		return runAccount(args[1:], stdout, stderr)
	case "height":
		return runHeight(args[1:], stdout, stderr)
	case "audit":
		return runAudit(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return defaultRPCURL
}

// applyGlobalFlags strips --rpc and --token from anywhere in args.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			setGlobal(arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--rpc="):
			setGlobal("--rpc", strings.TrimPrefix(arg, "--rpc="))
		case strings.HasPrefix(arg, "--token="):
			setGlobal("--token", strings.TrimPrefix(arg, "--token="))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func setGlobal(name, value string) {
	if name == "--rpc" {
		rpcEndpoint = value
		return
	}
	rpcAuthToken = value
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses args and rejects positional leftovers.
func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func dial(opts ...client.Option) *client.Client {
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return newRPCClient(rpcEndpoint, opts...)
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleCallError(w io.Writer, err error) int {
	var rpcErr *client.Error
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(w, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeJSON(w io.Writer, v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return printError(w, err.Error())
	}
	fmt.Fprintln(w, string(data))
	return 0
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Keys:
  keygen             Create a new keystore file
  address            Print the address of a keystore file

Escrow (signed with --key):
  create             Lock funds for a recipient behind named conditions
  fulfill            Attest a condition as its registered verifier
  release            Pay the held funds to the recipient
  refund             Return the held funds to the donor after expiry
  add-auditor        Append an auditor to an escrow

Admin (signed with --key):
  set-admin          Hand administration to a new identity
  pause              Block creation and settlement
  unpause            Lift a pause
  register-verifier  Bind a condition name to a verifier

Queries:
  get                Show an escrow record
  balance            Show the amount still held for an escrow
  condition          Show fulfillment of one or all conditions
  auditors           List the auditors of an escrow
  verifier           Show the verifier registered for a condition
  totals             Show the ledger counters
  status             Show the admin and pause flag
  account            Show an account balance and nonce
  height             Show the current ledger height
  audit              List or verify archived events

Passphrases are read from ` + keyPassEnv + ` or prompted on the terminal.`)
}
