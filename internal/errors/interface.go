package errors

// ErrorCode identifies a failure class across the pipeline, e.g.
// decode_failed or bind_failed. Codes are stable and safe to expose to
// control-surface callers.
type ErrorCode string

// Error is a coded error. Data carries structured context such as the
// list of valid stress profiles.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory defines methods for creating domain errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
