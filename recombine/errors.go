package recombine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a conversion failure. Kinds are string codes so they
// read well in logs and JSON.
type ErrorKind string

const (
	// Metadata errors. These are reported before any fragment is read.
	MalformedManifest       ErrorKind = "MALFORMED_MANIFEST"
	MissingConfig           ErrorKind = "MISSING_CONFIG"
	MissingDigest           ErrorKind = "MISSING_DIGEST"
	ConfigBlobUnreadable    ErrorKind = "CONFIG_BLOB_UNREADABLE"
	InvalidQuantizationType ErrorKind = "INVALID_QUANTIZATION_TYPE"
	MissingLayers           ErrorKind = "MISSING_LAYERS"

	// Assembly errors.
	FragmentUnreadable ErrorKind = "FRAGMENT_UNREADABLE"
	AssemblyAborted    ErrorKind = "ASSEMBLY_ABORTED"
	WriteFailure       ErrorKind = "WRITE_FAILURE"

	// PartialArtifactCleanupFailure is never returned alone; it is joined to
	// the failure that caused the cleanup.
	PartialArtifactCleanupFailure ErrorKind = "PARTIAL_ARTIFACT_CLEANUP_FAILURE"
)

var (
	ErrMalformedManifest             = &Error{Kind: MalformedManifest}
	ErrMissingConfig                 = &Error{Kind: MissingConfig}
	ErrMissingDigest                 = &Error{Kind: MissingDigest}
	ErrConfigBlobUnreadable          = &Error{Kind: ConfigBlobUnreadable}
	ErrInvalidQuantizationType       = &Error{Kind: InvalidQuantizationType}
	ErrMissingLayers                 = &Error{Kind: MissingLayers}
	ErrFragmentUnreadable            = &Error{Kind: FragmentUnreadable}
	ErrAssemblyAborted               = &Error{Kind: AssemblyAborted}
	ErrWriteFailure                  = &Error{Kind: WriteFailure}
	ErrPartialArtifactCleanupFailure = &Error{Kind: PartialArtifactCleanupFailure}
)

// Error is a conversion failure. Subject names the offending field, fragment
// digest or file path.
type Error struct {
	Kind    ErrorKind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Subject != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Subject)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* sentinels can be used
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// KindOf returns the kind of the first *Error in err's tree, or the empty
// kind if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}
