package errors

import (
	stderrors "errors"

	"github.com/joomcode/errorx"
)

// Failure taxonomy of the package lifecycle. Stage failures travel to hooks as-is, so
// callers can classify them with the Is* helpers below.
var (
	Namespace = errorx.NewNamespace("assetpkg")

	// TransferError is a transient download failure (network error, timeout, 5xx).
	TransferError = Namespace.NewType("transfer_error", errorx.Temporary())
	// TransferRejectedError is a permanent download failure (not found, unauthorized).
	TransferRejectedError = Namespace.NewType("transfer_rejected")
	// ExtractionError is an archive that could not be unpacked.
	ExtractionError = Namespace.NewType("extraction_error")
	// InstallError is a failed move into the install root or a failed hook.
	InstallError = Namespace.NewType("install_error")
	// PreconditionError is an operation the package status does not allow.
	PreconditionError = Namespace.NewType("precondition_error")
	// StateError is a persisted package table that cannot be read or written.
	StateError = Namespace.NewType("state_error")

	PackageProperty    = errorx.RegisterPrintableProperty("package")
	StatusProperty     = errorx.RegisterPrintableProperty("status")
	URLProperty        = errorx.RegisterPrintableProperty("url")
	StatusCodeProperty = errorx.RegisterPrintableProperty("status_code")
	PathProperty       = errorx.RegisterPrintableProperty("path")
)

const (
	transferErrorMsg     = "failed to download '%s'"
	transferRejectedMsg  = "download of '%s' was rejected with status %d"
	extractionErrorMsg   = "failed to extract '%s' to '%s'"
	installErrorMsg      = "failed to install '%s'"
	preconditionErrorMsg = "cannot %s package '%s' in status '%s'"
)

// NewTransferError creates a transient download error.
func NewTransferError(cause error, url string, statusCode int) *errorx.Error {
	err := TransferError.New(transferErrorMsg, url).
		WithProperty(URLProperty, url)
	if statusCode > 0 {
		err = err.WithProperty(StatusCodeProperty, statusCode)
	}
	if cause != nil {
		err = err.WithUnderlyingErrors(cause)
	}
	return err
}

// NewTransferRejectedError creates a permanent download error. It is not retried.
func NewTransferRejectedError(url string, statusCode int) *errorx.Error {
	return TransferRejectedError.New(transferRejectedMsg, url, statusCode).
		WithProperty(URLProperty, url).
		WithProperty(StatusCodeProperty, statusCode)
}

// NewExtractionError reports an archive that could not be extracted into destDir.
func NewExtractionError(cause error, archivePath, destDir string) *errorx.Error {
	err := ExtractionError.New(extractionErrorMsg, archivePath, destDir).
		WithProperty(PathProperty, archivePath)
	if cause != nil {
		err = err.WithUnderlyingErrors(cause)
	}
	return err
}

// NewInstallError reports a failed install into installPath.
func NewInstallError(cause error, installPath string) *errorx.Error {
	err := InstallError.New(installErrorMsg, installPath).
		WithProperty(PathProperty, installPath)
	if cause != nil {
		err = err.WithUnderlyingErrors(cause)
	}
	return err
}

// NewPreconditionError reports an operation rejected because of the package status.
// No state is mutated when this error is returned.
func NewPreconditionError(op, pkg, status string) *errorx.Error {
	return PreconditionError.New(preconditionErrorMsg, op, pkg, status).
		WithProperty(PackageProperty, pkg).
		WithProperty(StatusProperty, status)
}

// NewStateError reports a package table at path that could not be used.
func NewStateError(cause error, path string) *errorx.Error {
	err := StateError.New("package state at '%s' is unusable", path).
		WithProperty(PathProperty, path)
	if cause != nil {
		err = err.WithUnderlyingErrors(cause)
	}
	return err
}

// IsTransient reports whether err is a transfer failure that may succeed on retry.
func IsTransient(err error) bool {
	var xerr *errorx.Error
	if !stderrors.As(err, &xerr) {
		return false
	}
	return xerr.HasTrait(errorx.Temporary())
}

// IsOfType reports whether err, or an error it wraps, is an errorx error of type t.
func IsOfType(err error, t *errorx.Type) bool {
	var xerr *errorx.Error
	if !stderrors.As(err, &xerr) {
		return false
	}
	return xerr.IsOfType(t)
}

// IsPrecondition reports whether err was rejected because of the package status.
func IsPrecondition(err error) bool { return IsOfType(err, PreconditionError) }

// IsExtraction reports whether err is an unpack failure.
func IsExtraction(err error) bool { return IsOfType(err, ExtractionError) }

// IsInstall reports whether err is an install failure.
func IsInstall(err error) bool { return IsOfType(err, InstallError) }

// IsRejected reports whether err is a download the server refused permanently.
func IsRejected(err error) bool { return IsOfType(err, TransferRejectedError) }
