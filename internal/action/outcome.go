package action

import (
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Status 是一次提交的最终结果。
type Status string

const (
	StatusConfirmed       Status = "confirmed"
	StatusLikelyConfirmed Status = "likely_confirmed"
	StatusUnresolved      Status = "unresolved"
	StatusRejected        Status = "rejected"
)

// Outcome 记录一次执行尝试的结果，签名仅用于日志与浏览器链接。
type Outcome struct {
	DescriptorID string
	Kind         Kind
	Status       Status
	Signature    solana.Signature
	Reason       error
	FinishedAt   time.Time
}

// Succeeded 对 Confirmed 与 LikelyConfirmed 返回 true。
func (o Outcome) Succeeded() bool {
	return o.Status == StatusConfirmed || o.Status == StatusLikelyConfirmed
}

// HasSignature 表示交易是否已经广播。
func (o Outcome) HasSignature() bool {
	return !o.Signature.IsZero()
}

// Headline 返回 "Transaction <status>: <signature>" 形式的一行结果。
func (o Outcome) Headline() string {
	line := "Transaction " + strings.ReplaceAll(string(o.Status), "_", " ")
	if o.HasSignature() {
		line += ": " + o.Signature.String()
	}
	return line
}
