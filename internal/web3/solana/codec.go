package solana

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrMalformedTransaction wraps every decoding failure.
var ErrMalformedTransaction = errors.New("malformed transaction")

const (
	signatureLength = 64
	versionPrefix   = 0x80
	maxAccountIndex = 256
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedTransaction, fmt.Sprintf(format, args...))
}

// DecodeTransaction decodes a base64 wire transaction. It rejects payloads
// the runtime would reject instead of silently accepting a prefix.
func DecodeTransaction(encoded string) (*solanago.Transaction, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, malformed("empty payload")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, malformed("invalid base64: %v", err)
	}
	return DecodeTransactionBytes(raw)
}

// DecodeTransactionBytes decodes a wire transaction: signatures, a legacy or
// v0 message, and nothing after it.
func DecodeTransactionBytes(raw []byte) (tx *solanago.Transaction, err error) {
	if len(raw) == 0 {
		return nil, malformed("empty payload")
	}
	if err := checkMessagePrefix(raw); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = malformed("decoder panic: %v", r)
		}
	}()

	decoder := bin.NewBinDecoder(raw)
	var out solanago.Transaction
	if err := out.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if decoder.HasRemaining() {
		return nil, malformed("%d trailing bytes after message", decoder.Remaining())
	}
	if err := validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// checkMessagePrefix inspects the first message byte, which is either the
// legacy header or a version marker.
func checkMessagePrefix(raw []byte) error {
	count, size, err := bin.DecodeCompactU16(raw)
	if err != nil {
		return malformed("signature count: %v", err)
	}
	offset := size + count*signatureLength
	if offset >= len(raw) {
		return malformed("payload too short for %d signatures", count)
	}
	prefix := raw[offset]
	switch {
	case prefix&versionPrefix != 0:
		if version := prefix &^ versionPrefix; version != 0 {
			return malformed("unsupported message version %d", version)
		}
	case prefix == 0x7f:
		return malformed("invalid message prefix 0x7f")
	}
	return nil
}

func validate(tx *solanago.Transaction) error {
	msg := tx.Message
	header := msg.Header
	static := len(msg.AccountKeys)

	if header.NumRequiredSignatures == 0 {
		return malformed("message requires no signatures")
	}
	if len(tx.Signatures) != int(header.NumRequiredSignatures) {
		return malformed("signature count %d does not match header %d", len(tx.Signatures), header.NumRequiredSignatures)
	}
	if int(header.NumRequiredSignatures) > static {
		return malformed("header requires %d signers but only %d keys", header.NumRequiredSignatures, static)
	}
	if header.NumReadonlySignedAccounts >= header.NumRequiredSignatures {
		return malformed("fee payer cannot be read-only")
	}
	if int(header.NumRequiredSignatures)+int(header.NumReadonlyUnsignedAccounts) > static {
		return malformed("read-only unsigned count %d exceeds account keys", header.NumReadonlyUnsignedAccounts)
	}

	total := static
	if msg.IsVersioned() {
		total += msg.AddressTableLookups.NumLookups()
	} else if len(msg.AddressTableLookups) > 0 {
		return malformed("legacy message carries address table lookups")
	}
	if total > maxAccountIndex {
		return malformed("%d accounts exceed the addressable range", total)
	}

	for i, ix := range msg.Instructions {
		if ix.ProgramIDIndex == 0 || int(ix.ProgramIDIndex) >= static {
			return malformed("instruction %d program index %d out of range [1,%d)", i, ix.ProgramIDIndex, static)
		}
		for _, idx := range ix.Accounts {
			if int(idx) >= total {
				return malformed("instruction %d account index %d out of range [0,%d)", i, idx, total)
			}
		}
	}
	return nil
}

// EncodeTransaction returns the base64 wire form of tx.
func EncodeTransaction(tx *solanago.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Summary is a printable overview of a decoded transaction.
type Summary struct {
	Version            string   `json:"version"`
	FeePayer           string   `json:"fee_payer"`
	RecentBlockhash    string   `json:"recent_blockhash"`
	RequiredSignatures int      `json:"required_signatures"`
	Signed             int      `json:"signed"`
	StaticAccounts     int      `json:"static_accounts"`
	LookupAccounts     int      `json:"lookup_accounts"`
	Instructions       int      `json:"instructions"`
	Programs           []string `json:"programs"`
}

// Summarize describes tx without resolving address tables.
func Summarize(tx *solanago.Transaction) Summary {
	msg := tx.Message
	s := Summary{
		Version:            "legacy",
		RecentBlockhash:    msg.RecentBlockhash.String(),
		RequiredSignatures: int(msg.Header.NumRequiredSignatures),
		StaticAccounts:     len(msg.AccountKeys),
		Instructions:       len(msg.Instructions),
	}
	if msg.IsVersioned() {
		s.Version = "v0"
		s.LookupAccounts = msg.AddressTableLookups.NumLookups()
	}
	if len(msg.AccountKeys) > 0 {
		s.FeePayer = msg.AccountKeys[0].String()
	}
	for _, sig := range tx.Signatures {
		if !sig.IsZero() {
			s.Signed++
		}
	}
	seen := make(map[uint16]struct{})
	for _, ix := range msg.Instructions {
		if _, ok := seen[ix.ProgramIDIndex]; ok {
			continue
		}
		seen[ix.ProgramIDIndex] = struct{}{}
		if int(ix.ProgramIDIndex) < len(msg.AccountKeys) {
			s.Programs = append(s.Programs, msg.AccountKeys[ix.ProgramIDIndex].String())
		}
	}
	return s
}
