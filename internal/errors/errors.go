// Package errors 定义客户端统一的错误码。每个错误码带有默认的提示语、严重程度，
// 以及是否可由用户重试、是否需要告警的标记；任何错误都不会被自动重试。
package errors

import (
	stdErrors "errors"
	"fmt"
)

// Code 表示统一错误码。
type Code string

// Severity 描述错误的严重程度，写入日志与结果事件。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码的默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

// 通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 交易执行相关的错误码。
const (
	CodeMalformedDescriptor   Code = "MALFORMED_DESCRIPTOR"
	CodeCapabilityUnavailable Code = "CAPABILITY_UNAVAILABLE"
	CodeUpgradeRequired       Code = "UPGRADE_REQUIRED"
	CodeWalletRejected        Code = "WALLET_REJECTED"
	CodeTransportFailure      Code = "TRANSPORT_FAILURE"
	CodeOnChainRejection      Code = "ONCHAIN_REJECTION"
	CodeConfirmationAmbiguous Code = "CONFIRMATION_AMBIGUOUS"
)

// registry 是各错误码的默认属性。
var registry = map[Code]Attributes{
	CodeUnknown:               {"unknown error", SeverityCritical, false, true},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
	CodeInitializationFailure: {"component not initialized", SeverityWarning, false, true},
	CodeStorageFailure:        {"storage failure", SeverityWarning, true, false},
	CodeTimeout:               {"operation timed out", SeverityWarning, true, false},

	CodeMalformedDescriptor:   {"malformed action descriptor", SeverityWarning, false, false},
	CodeCapabilityUnavailable: {"wallet capability unavailable, connect a wallet first", SeverityInfo, false, false},
	CodeUpgradeRequired:       {"VersionedTransaction not supported by this wallet version. Please update your wallet.", SeverityWarning, false, false},
	CodeWalletRejected:        {"wallet rejected the request", SeverityInfo, false, false},
	CodeTransportFailure:      {"transport failure", SeverityWarning, true, false},
	CodeOnChainRejection:      {"transaction failed on chain", SeverityWarning, false, true},
	CodeConfirmationAmbiguous: {"transaction sent but confirmation uncertain", SeverityWarning, false, true},
}

// AttributesOf 返回错误码的属性，未注册的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是带错误码的错误，属性在创建时从注册表复制。
type Error struct {
	code     Code
	message  string
	cause    error
	attr     Attributes
	metadata map[string]string
}

// Option 调整单个错误实例。
type Option func(*Error)

// WithMetadata 附加键值信息，例如交易签名。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 2)
		}
		e.metadata[key] = value
	}
}

// New 创建错误，message 为空时使用错误码的默认提示语。
func New(code Code, message string, opts ...Option) *Error {
	attr := AttributesOf(code)
	if message == "" {
		message = attr.Message
	}
	e := &Error{code: code, message: message, attr: attr}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，但保留底层原因。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回面向用户的提示语。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Retryable 判断是否可由用户重试。
func (e *Error) Retryable() bool {
	return e != nil && e.attr.Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	return e != nil && e.attr.Alert
}

// Severity 返回严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attr.Severity
}

// From 在错误链中查找 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误链中的错误码，没有时为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断 err 是否可由用户重试。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// ShouldAlert 判断 err 是否需要告警。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && e.ShouldAlert()
}

// SeverityOf 返回严重程度；非统一错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// MetadataValue 返回错误链中附加信息的某个键。
func MetadataValue(err error, key string) string {
	if e, ok := From(err); ok {
		return e.metadata[key]
	}
	return ""
}
