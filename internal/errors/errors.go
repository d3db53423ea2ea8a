package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
		},
		CodeInvalidManifest: {
			Message:  "invalid plugin manifest",
			Severity: SeverityWarning,
		},
		CodeDisabled: {
			Message:  "plugin disabled",
			Severity: SeverityInfo,
		},
		CodeMissingDependency: {
			Message:  "plugin dependency not registered",
			Severity: SeverityWarning,
		},
		CodeMissingImplementation: {
			Message:  "plugin requires an implementation, but none exists",
			Severity: SeverityWarning,
		},
		CodeInvalidSettingsHook: {
			Message:  "hooks.settings must map setting keys to checkers",
			Severity: SeverityWarning,
		},
		CodeSettingsRejected: {
			Message:  "plugin settings rejected",
			Severity: SeverityWarning,
		},
		CodeSchemaConflict: {
			Message:  "plugin graphql schema conflict",
			Severity: SeverityWarning,
		},
		CodeUnresolvedDependencies: {
			Message:  "cyclic or unresolved plugin dependencies",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeLoadFailure: {
			Message:  "plugin load failed",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeHookFailure: {
			Message:  "plugin hook failed",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeLoadInProgress: {
			Message:   "plugin load pass already running",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeQueueFailure: {
			Message:   "queue failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeTimeout: {
			Message:   "operation timed out",
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
	}
)

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"

	// 插件注册与加载阶段使用的错误码。
	CodeInvalidManifest        Code = "INVALID_MANIFEST"
	CodeDisabled               Code = "DISABLED"
	CodeMissingDependency      Code = "MISSING_DEPENDENCY"
	CodeMissingImplementation  Code = "MISSING_IMPLEMENTATION"
	CodeInvalidSettingsHook    Code = "INVALID_SETTINGS_HOOK"
	CodeSettingsRejected       Code = "SETTINGS_REJECTED"
	CodeSchemaConflict         Code = "SCHEMA_CONFLICT"
	CodeUnresolvedDependencies Code = "UNRESOLVED_DEPENDENCIES"
	CodeLoadFailure            Code = "LOAD_FAILURE"
	CodeHookFailure            Code = "HOOK_FAILURE"
	CodeLoadInProgress         Code = "LOAD_IN_PROGRESS"

	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeQueueFailure   Code = "QUEUE_FAILURE"
	CodeTimeout        Code = "TIMEOUT"
)

// Register 允许插件在加载阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是插件核心统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithPlugin 记录出错插件的 name@version。
func WithPlugin(key string) Option {
	return WithMetadata("plugin", key)
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 以格式化消息创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
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
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码，nil 返回空字符串。
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
