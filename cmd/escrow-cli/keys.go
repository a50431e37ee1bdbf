package main

import (
	"fmt"
	"io"
	"strings"

	"escrowledger/cmd/internal/passphrase"
	"escrowledger/crypto"
	"escrowledger/rpc/client"
)

// loadSigningKey is replaced in tests to skip scrypt.
var loadSigningKey = loadKeystore

func loadKeystore(path string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(keyPassEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "keystore file to create")
	light := fs.Bool("light", false, "use fast scrypt parameters (development only)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(stderr, "--out is required")
	}
	pass, err := passphrase.NewSource(keyPassEnv, "new keystore").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	strength := crypto.StandardKeystore
	if *light {
		strength = crypto.LightKeystore
	}
	if err := crypto.SaveToKeystoreWithStrength(*out, key, pass, strength); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "address: %s\nkeystore: %s\n", key.Address(), *out)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", "", "keystore file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*keyPath) == "" {
		return printError(stderr, "--key is required")
	}
	key, err := loadSigningKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.Address()
	fmt.Fprintf(stdout, "%s\n%s\n", addr, addr.Hex())
	return 0
}

// signer loads --key and returns a client that signs with it. A non-zero
// exit code means the error was already reported.
func signer(keyPath string, stderr io.Writer) (*client.Client, int) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, printError(stderr, "--key is required")
	}
	key, err := loadSigningKey(keyPath)
	if err != nil {
		return nil, printError(stderr, err.Error())
	}
	return dial(client.WithKey(key)), 0
}
