package main

import (
	"fmt"
	"io"
	"strings"

	"escrowledger/rpc/modules"
)

func runSetAdmin(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-admin", stderr)
	keyPath := fs.String("key", "", "current admin keystore file")
	admin := fs.String("admin", "", "new admin address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	next, err := parseAddressFlag("admin", *admin)
	if err != nil {
		return printError(stderr, err.Error())
	}
	c, code := signer(*keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	if err := c.SetAdmin(ctx, next); err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "admin set to %s\n", next)
	return 0
}

func runPause(args []string, stdout, stderr io.Writer, pause bool) int {
	name := "unpause"
	if pause {
		name = "pause"
	}
	fs := newFlagSet(name, stderr)
	keyPath := fs.String("key", "", "admin keystore file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	c, code := signer(*keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	var err error
	if pause {
		err = c.Pause(ctx)
	} else {
		err = c.Unpause(ctx)
	}
	if err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "ledger %sd\n", name)
	return 0
}

func runRegisterVerifier(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("register-verifier", stderr)
	keyPath := fs.String("key", "", "admin keystore file")
	condition := fs.String("condition", "", "condition name")
	verifier := fs.String("verifier", "", "verifier address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*condition) == "" {
		return printError(stderr, "--condition is required")
	}
	addr, err := parseAddressFlag("verifier", *verifier)
	if err != nil {
		return printError(stderr, err.Error())
	}
	c, code := signer(*keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	if err := c.RegisterVerifier(ctx, *condition, addr); err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "verifier %s registered for %q\n", addr, *condition)
	return 0
}

func runVerifier(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("verifier", stderr)
	condition := fs.String("condition", "", "condition name")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*condition) == "" {
		return printError(stderr, "--condition is required")
	}
	ctx, cancel := rpcContext()
	defer cancel()
	res, err := dial().Verifier(ctx, *condition)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, res)
}

func runTotals(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("totals", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	ctx, cancel := rpcContext()
	defer cancel()
	res, err := dial().Totals(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, res)
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	ctx, cancel := rpcContext()
	defer cancel()
	c := dial()
	admin, err := c.Admin(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	paused, err := c.Paused(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, map[string]interface{}{
		"admin":       admin.Admin,
		"initialised": admin.Initialised,
		"paused":      paused,
	})
}

func runAccount(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("account", stderr)
	address := fs.String("address", "", "account address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := parseAddressFlag("address", *address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := rpcContext()
	defer cancel()
	c := dial()
	balance, err := c.AccountBalance(ctx, addr)
	if err != nil {
		return handleCallError(stderr, err)
	}
	nonce, err := c.AccountNonce(ctx, addr)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, map[string]interface{}{
		"address": addr.String(),
		"balance": balance.String(),
		"nonce":   nonce,
	})
}

func runHeight(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("height", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	ctx, cancel := rpcContext()
	defer cancel()
	height, err := dial().Height(ctx)
	if err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintln(stdout, height)
	return 0
}

func runAudit(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, "audit requires a subcommand: events or verify")
	}
	switch args[0] {
	case "events":
		fs := newFlagSet("audit events", stderr)
		var params modules.EventsParams
		fs.StringVar(&params.ID, "id", "", "only events of this escrow")
		fs.StringVar(&params.Type, "type", "", "only events of this type")
		fs.Uint64Var(&params.AfterSeq, "after", 0, "resume after this sequence number")
		fs.IntVar(&params.Limit, "limit", 0, "maximum number of events")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		ctx, cancel := rpcContext()
		defer cancel()
		res, err := dial().AuditEvents(ctx, params)
		if err != nil {
			return handleCallError(stderr, err)
		}
		return writeJSON(stdout, res)
	case "verify":
		fs := newFlagSet("audit verify", stderr)
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		ctx, cancel := rpcContext()
		defer cancel()
		res, err := dial().AuditVerify(ctx)
		if err != nil {
			return handleCallError(stderr, err)
		}
		if code := writeJSON(stdout, res); code != 0 {
			return code
		}
		if !res.Valid {
			return 1
		}
		return 0
	default:
		return printError(stderr, fmt.Sprintf("unknown audit subcommand: %s", args[0]))
	}
}
