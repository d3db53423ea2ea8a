package plugin

import xerrors "PenPal/internal/errors"

// Codes returned by the manager. They alias the application error codes so
// callers outside this module can match failures.
const (
	CodeInvalidManifest        = xerrors.CodeInvalidManifest
	CodeDisabled               = xerrors.CodeDisabled
	CodeMissingDependency      = xerrors.CodeMissingDependency
	CodeMissingImplementation  = xerrors.CodeMissingImplementation
	CodeInvalidSettingsHook    = xerrors.CodeInvalidSettingsHook
	CodeSettingsRejected       = xerrors.CodeSettingsRejected
	CodeSchemaConflict         = xerrors.CodeSchemaConflict
	CodeUnresolvedDependencies = xerrors.CodeUnresolvedDependencies
	CodeLoadFailure            = xerrors.CodeLoadFailure
	CodeHookFailure            = xerrors.CodeHookFailure
	CodeLoadInProgress         = xerrors.CodeLoadInProgress
)

// CodeOf returns the error code carried by err.
func CodeOf(err error) xerrors.Code {
	return xerrors.CodeOf(err)
}
