package main

import (
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"escrowledger/crypto"
	"escrowledger/rpc/client"
)

// stringList collects a repeatable flag, also splitting on commas.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func parseEscrowID(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--id must be a decimal escrow identifier")
	}
	return id, nil
}

func parseAddressFlag(name, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, fmt.Errorf("--%s is required", name)
	}
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("--%s: %v", name, err)
	}
	return addr, nil
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		keyPath    string
		recipient  string
		amountStr  string
		metadata   string
		duration   uint64
		conditions stringList
		auditors   stringList
	)
	fs.StringVar(&keyPath, "key", "", "donor keystore file")
	fs.StringVar(&recipient, "recipient", "", "recipient address")
	fs.StringVar(&amountStr, "amount", "", "amount to lock (base units)")
	fs.StringVar(&metadata, "metadata", "", "free-form description")
	fs.Uint64Var(&duration, "duration", 0, "lifetime in ledger heights")
	fs.Var(&conditions, "condition", "condition name (repeatable)")
	fs.Var(&auditors, "auditor", "auditor address (repeatable)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	to, err := parseAddressFlag("recipient", recipient)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(amountStr) == "" {
		return printError(stderr, "--amount is required")
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
	if !ok {
		return printError(stderr, "--amount must be a base-10 integer")
	}
	req := client.CreateRequest{
		Recipient:  to,
		Amount:     amount,
		Conditions: conditions,
		Metadata:   metadata,
		Duration:   duration,
	}
	for _, raw := range auditors {
		addr, err := parseAddressFlag("auditor", raw)
		if err != nil {
			return printError(stderr, err.Error())
		}
		req.Auditors = append(req.Auditors, addr)
	}

	c, code := signer(keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	id, err := c.Create(ctx, req)
	if err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "escrow %d created\n", id)
	return 0
}

func runFulfill(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fulfill", stderr)
	keyPath := fs.String("key", "", "verifier keystore file")
	idStr := fs.String("id", "", "escrow identifier")
	condition := fs.String("condition", "", "condition name")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(*condition) == "" {
		return printError(stderr, "--condition is required")
	}
	c, code := signer(*keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	if err := c.FulfillCondition(ctx, id, *condition); err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "condition %q fulfilled on escrow %d\n", *condition, id)
	return 0
}

func runRelease(args []string, stdout, stderr io.Writer) int {
	return runSettle("release", args, stdout, stderr)
}

func runRefund(args []string, stdout, stderr io.Writer) int {
	return runSettle("refund", args, stdout, stderr)
}

func runSettle(action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(action, stderr)
	keyPath := fs.String("key", "", "caller keystore file")
	idStr := fs.String("id", "", "escrow identifier")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	c, code := signer(*keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	if action == "release" {
		err = c.Release(ctx, id)
	} else {
		err = c.Refund(ctx, id)
	}
	if err != nil {
		return handleCallError(stderr, err)
	}
	past := map[string]string{"release": "released", "refund": "refunded"}[action]
	fmt.Fprintf(stdout, "escrow %d %s\n", id, past)
	return 0
}

func runAddAuditor(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("add-auditor", stderr)
	keyPath := fs.String("key", "", "donor keystore file")
	idStr := fs.String("id", "", "escrow identifier")
	auditor := fs.String("auditor", "", "auditor address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr, err := parseAddressFlag("auditor", *auditor)
	if err != nil {
		return printError(stderr, err.Error())
	}
	c, code := signer(*keyPath, stderr)
	if code != 0 {
		return code
	}
	ctx, cancel := rpcContext()
	defer cancel()
	if err := c.AddAuditor(ctx, id, addr); err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "auditor %s added to escrow %d\n", addr, id)
	return 0
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	idStr := fs.String("id", "", "escrow identifier")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := rpcContext()
	defer cancel()
	res, err := dial().Get(ctx, id)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, res)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	idStr := fs.String("id", "", "escrow identifier")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := rpcContext()
	defer cancel()
	res, err := dial().Balance(ctx, id)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, res)
}

func runCondition(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("condition", stderr)
	idStr := fs.String("id", "", "escrow identifier")
	condition := fs.String("condition", "", "condition name; all conditions when empty")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := rpcContext()
	defer cancel()
	res, err := dial().ConditionStatus(ctx, id, strings.TrimSpace(*condition))
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, res)
}

func runAuditors(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("auditors", stderr)
	idStr := fs.String("id", "", "escrow identifier")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	id, err := parseEscrowID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := rpcContext()
	defer cancel()
	auditors, err := dial().Auditors(ctx, id)
	if err != nil {
		return handleCallError(stderr, err)
	}
	for _, auditor := range auditors {
		fmt.Fprintln(stdout, auditor)
	}
	return 0
}
