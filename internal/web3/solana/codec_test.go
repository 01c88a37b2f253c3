package solana

import (
	"encoding/base64"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedTransfer returns a single-signer legacy transfer whose account keys
// are [payer, destination, system program].
func signedTransfer(t *testing.T) (*solanago.Transaction, solanago.PrivateKey) {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	dest := solanago.NewWallet().PublicKey()
	blockhash := solanago.Hash(solanago.NewWallet().PublicKey())

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(10_000_000, key.PublicKey(), dest).Build()},
		blockhash,
		solanago.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(pk solanago.PublicKey) *solanago.PrivateKey {
		if pk.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	require.NoError(t, err)
	return tx, key
}

func rawOf(t *testing.T, tx *solanago.Transaction) []byte {
	t.Helper()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func encode(raw []byte) string { return base64.StdEncoding.EncodeToString(raw) }

func TestDecodeLegacyTransaction(t *testing.T) {
	tx, key := signedTransfer(t)
	encoded, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(encoded)
	require.NoError(t, err)
	assert.False(t, decoded.Message.IsVersioned())
	assert.Equal(t, tx.Signatures, decoded.Signatures)

	summary := Summarize(decoded)
	assert.Equal(t, "legacy", summary.Version)
	assert.Equal(t, key.PublicKey().String(), summary.FeePayer)
	assert.Equal(t, 1, summary.Signed)
	assert.Equal(t, []string{solanago.SystemProgramID.String()}, summary.Programs)
}

func TestDecodeVersionedTransactionWithLookups(t *testing.T) {
	tx, _ := signedTransfer(t)
	tx.Message.SetVersion(solanago.MessageVersionV0)
	tx.Message.SetAddressTableLookups([]solanago.MessageAddressTableLookup{{
		AccountKey:      solanago.NewWallet().PublicKey(),
		WritableIndexes: solanago.Uint8SliceAsNum{5},
	}})
	tx.Message.Instructions[0].Accounts = append(tx.Message.Instructions[0].Accounts, 3)

	decoded, err := DecodeTransaction(encode(rawOf(t, tx)))
	require.NoError(t, err)
	assert.True(t, decoded.Message.IsVersioned())
	assert.Equal(t, 1, Summarize(decoded).LookupAccounts)

	tx.Message.Instructions[0].Accounts[2] = 4
	_, err = DecodeTransaction(encode(rawOf(t, tx)))
	assert.ErrorIs(t, err, ErrMalformedTransaction)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	tx, _ := signedTransfer(t)
	valid := rawOf(t, tx)

	versioned, _ := signedTransfer(t)
	versioned.Message.SetVersion(solanago.MessageVersionV0)
	badVersion := rawOf(t, versioned)
	require.Equal(t, byte(0x80), badVersion[65])
	badVersion[65] = 0x81

	cases := map[string]string{
		"empty":          "",
		"not base64":     "@@@not-base64@@@",
		"truncated":      encode(valid[:len(valid)-1]),
		"trailing bytes": encode(append(append([]byte{}, valid...), 0x00)),
		"bad version":    encode(badVersion),
		"only signature": encode(valid[:65]),
	}
	for name, payload := range cases {
		_, err := DecodeTransaction(payload)
		assert.ErrorIs(t, err, ErrMalformedTransaction, name)
	}
}

func TestDecodeRejectsInconsistentMessages(t *testing.T) {
	mutations := map[string]func(tx *solanago.Transaction){
		"missing signatures": func(tx *solanago.Transaction) { tx.Signatures = nil },
		"extra signature": func(tx *solanago.Transaction) {
			tx.Signatures = append(tx.Signatures, tx.Signatures[0])
		},
		"program index out of range": func(tx *solanago.Transaction) { tx.Message.Instructions[0].ProgramIDIndex = 9 },
		"payer as program":           func(tx *solanago.Transaction) { tx.Message.Instructions[0].ProgramIDIndex = 0 },
		"account index out of range": func(tx *solanago.Transaction) { tx.Message.Instructions[0].Accounts[0] = 200 },
		"read-only fee payer":        func(tx *solanago.Transaction) { tx.Message.Header.NumReadonlySignedAccounts = 1 },
		"read-only overflow":         func(tx *solanago.Transaction) { tx.Message.Header.NumReadonlyUnsignedAccounts = 3 },
	}
	for name, mutate := range mutations {
		tx, _ := signedTransfer(t)
		mutate(tx)
		_, err := DecodeTransactionBytes(rawOf(t, tx))
		assert.ErrorIs(t, err, ErrMalformedTransaction, name)
	}
}
