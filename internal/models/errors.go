package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind discriminates the failure modes of a docking request.
// Every kind is itself an error so callers can match with errors.Is:
//
//	if errors.Is(err, models.KindInvalidSmiles) { ... }
type ErrorKind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown ErrorKind = iota
	// KindUnsupportedTarget means the target's artifacts are missing or the name is malformed.
	KindUnsupportedTarget
	// KindInvalidSmiles means the input string could not be parsed as SMILES.
	KindInvalidSmiles
	// KindSanitization means the parsed molecule violates valence rules.
	KindSanitization
	// KindUnsupportedMolecule means the molecule is outside the supported element, size or charge bounds.
	KindUnsupportedMolecule
	// KindEmbedding means 3D embedding or force-field refinement failed.
	KindEmbedding
	// KindLigandConversion means the prepared ligand could not be converted to the engine input format.
	KindLigandConversion
	// KindEngineExecution means the docking engine exited non-zero or was interrupted.
	KindEngineExecution
	// KindEngineOutput means the engine exited cleanly but its output is unusable.
	KindEngineOutput
	// KindBondOrderAssignment means the docked coordinates could not be mapped onto the reference.
	KindBondOrderAssignment
	// KindDockedLigandMismatch means the reconstructed ligand is not the submitted molecule.
	KindDockedLigandMismatch
)

var kindNames = map[ErrorKind]string{
	KindUnknown:              "unknown",
	KindUnsupportedTarget:    "unsupported_target",
	KindInvalidSmiles:        "invalid_smiles",
	KindSanitization:         "sanitization",
	KindUnsupportedMolecule:  "unsupported_molecule",
	KindEmbedding:            "embedding",
	KindLigandConversion:     "ligand_conversion",
	KindEngineExecution:      "engine_execution",
	KindEngineOutput:         "engine_output",
	KindBondOrderAssignment:  "bond_order_assignment",
	KindDockedLigandMismatch: "docked_ligand_mismatch",
}

// String returns the snake_case name used in logs, metrics labels and history rows.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error implements the error interface so a kind can be used as an errors.Is target.
func (k ErrorKind) Error() string {
	return strings.ReplaceAll(k.String(), "_", " ")
}

// ParseErrorKind maps a name produced by String back to its kind.
func ParseErrorKind(name string) ErrorKind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// IsInputError reports whether the kind blames the submitted ligand rather than the system.
func (k ErrorKind) IsInputError() bool {
	switch k {
	case KindInvalidSmiles, KindSanitization, KindUnsupportedMolecule, KindEmbedding:
		return true
	default:
		return false
	}
}

// DockError is the single error type raised by the docking pipeline.
type DockError struct {
	Kind    ErrorKind // Failure category
	Message string    // Human-readable description
	Output  string    // Captured subprocess output, if any
	Err     error     // Underlying cause (optional)
}

// NewDockError creates a DockError of the given kind.
func NewDockError(kind ErrorKind, msg string, err error) *DockError {
	return &DockError{
		Kind:    kind,
		Message: msg,
		Err:     err,
	}
}

// Errorf creates a DockError with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *DockError {
	return &DockError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface for DockError.
func (e *DockError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\n")
		sb.WriteString(out)
	}
	return sb.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *DockError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of the first DockError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var de *DockError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsUnsupportedTarget checks if an error is an unsupported target failure.
func IsUnsupportedTarget(err error) bool {
	return errors.Is(err, KindUnsupportedTarget)
}

// IsEngineExecution checks if an error is a docking engine execution failure.
func IsEngineExecution(err error) bool {
	return errors.Is(err, KindEngineExecution)
}

// InvariantViolation is the panic value used when an internal consistency
// check fails. It is deliberately not an error kind: it signals a pipeline
// bug and must never be converted into a recoverable failure.
type InvariantViolation struct {
	Message string
}

// Error implements the error interface for InvariantViolation.
func (v *InvariantViolation) Error() string {
	return "internal invariant violated: " + v.Message
}

// MustHold panics with an InvariantViolation when cond is false.
func MustHold(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&InvariantViolation{Message: fmt.Sprintf(format, args...)})
	}
}
