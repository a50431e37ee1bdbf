package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"escrowledger/crypto"
	"escrowledger/native/escrow"
)

// Spec is the YAML genesis document. Addresses are bech32 or 0x hex and
// balances are decimal strings.
type Spec struct {
	Admin     string            `yaml:"admin"`
	Height    uint64            `yaml:"height"`
	Paused    bool              `yaml:"paused"`
	Verifiers map[string]string `yaml:"verifiers"`
	Balances  map[string]string `yaml:"balances"`

	admin     *[20]byte
	verifiers map[string][20]byte
	balances  map[[20]byte]*big.Int
}

// Load reads and validates the genesis file at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(data)
}

// Parse decodes a genesis document. Unknown fields are rejected.
func Parse(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	spec := new(Spec)
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate parses every address and amount in the document.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis: spec must not be nil")
	}
	s.admin = nil
	if s.Admin != "" {
		addr, err := crypto.ParseAddress(s.Admin)
		if err != nil {
			return fmt.Errorf("genesis: admin: %w", err)
		}
		raw := [20]byte(addr)
		s.admin = &raw
	}
	s.verifiers = make(map[string][20]byte, len(s.Verifiers))
	for condition, value := range s.Verifiers {
		if utf8.RuneCountInString(condition) > escrow.MaxConditionLen {
			return fmt.Errorf("genesis: condition %q longer than %d", condition, escrow.MaxConditionLen)
		}
		addr, err := crypto.ParseAddress(value)
		if err != nil {
			return fmt.Errorf("genesis: verifier for %q: %w", condition, err)
		}
		s.verifiers[condition] = addr
	}
	s.balances = make(map[[20]byte]*big.Int, len(s.Balances))
	for key, value := range s.Balances {
		addr, err := crypto.ParseAddress(key)
		if err != nil {
			return fmt.Errorf("genesis: balance account %q: %w", key, err)
		}
		amount, ok := new(big.Int).SetString(value, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("genesis: balance for %s must be a positive integer", key)
		}
		if _, dup := s.balances[addr]; dup {
			return fmt.Errorf("genesis: duplicate balance for %s", addr)
		}
		s.balances[addr] = amount
	}
	return nil
}

// AdminAddress returns the parsed admin when one is configured.
func (s *Spec) AdminAddress() ([20]byte, bool) {
	if s == nil || s.admin == nil {
		return [20]byte{}, false
	}
	return *s.admin, true
}

type genesisState interface {
	SetEscrowAdmin(admin [20]byte) error
	SetEscrowPaused(paused bool) error
	SetEscrowVerifier(condition string, verifier [20]byte) error
	SetHeight(height uint64) error
}

type minter interface {
	Mint(addr [20]byte, amount *big.Int) error
}

// Apply writes the genesis allocation through st and mint. Entries are
// applied in sorted order so every node derives identical state.
func Apply(st genesisState, mint minter, spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("genesis: spec must not be nil")
	}
	if spec.verifiers == nil || spec.balances == nil {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	if err := st.SetHeight(spec.Height); err != nil {
		return err
	}
	if admin, ok := spec.AdminAddress(); ok {
		if err := st.SetEscrowAdmin(admin); err != nil {
			return err
		}
	}
	if spec.Paused {
		if err := st.SetEscrowPaused(true); err != nil {
			return err
		}
	}

	conditions := make([]string, 0, len(spec.verifiers))
	for condition := range spec.verifiers {
		conditions = append(conditions, condition)
	}
	sort.Strings(conditions)
	for _, condition := range conditions {
		if err := st.SetEscrowVerifier(condition, spec.verifiers[condition]); err != nil {
			return fmt.Errorf("genesis: verifier %q: %w", condition, err)
		}
	}

	accounts := make([][20]byte, 0, len(spec.balances))
	for addr := range spec.balances {
		accounts = append(accounts, addr)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	for _, addr := range accounts {
		if err := mint.Mint(addr, spec.balances[addr]); err != nil {
			return fmt.Errorf("genesis: mint %s: %w", crypto.Address(addr), err)
		}
	}
	return nil
}
