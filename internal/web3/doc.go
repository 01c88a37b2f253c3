// Package web3 houses ledger connectivity types shared by the executor, the
// wallet and the chat intake: blockhash windows, commitment levels, token
// holdings and the Ledger/Connector contracts, plus YAML cluster definitions.
// Concrete RPC access lives in the solana subpackage and cluster selection in
// the provider subpackage.
package web3
