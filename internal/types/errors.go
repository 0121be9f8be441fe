package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a transaction was rejected or could not be decided
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAlreadyPending
	KindAlreadyCommitted
	KindInvalidSignature
	KindInvalidProofOfWork
	KindInvalidSender
	KindInvalidReceiver
	KindInvalidNonce
	KindInvalidType
	KindInvalidAmount
	KindInsufficientFunds
	KindAccountNotFound
	KindCollaboratorUnavailable
	KindInvalidPayload
	KindUnauthorized
	KindDuplicateCoinbase
)

var kindNames = map[ErrorKind]string{
	KindUnknown:                 "unknown",
	KindAlreadyPending:          "already_pending",
	KindAlreadyCommitted:        "already_committed",
	KindInvalidSignature:        "invalid_signature",
	KindInvalidProofOfWork:      "invalid_proof_of_work",
	KindInvalidSender:           "invalid_sender",
	KindInvalidReceiver:         "invalid_receiver",
	KindInvalidNonce:            "invalid_nonce",
	KindInvalidType:             "invalid_type",
	KindInvalidAmount:           "invalid_amount",
	KindInsufficientFunds:       "insufficient_funds",
	KindAccountNotFound:         "account_not_found",
	KindCollaboratorUnavailable: "collaborator_unavailable",
	KindInvalidPayload:          "invalid_payload",
	KindUnauthorized:            "unauthorized",
	KindDuplicateCoinbase:       "duplicate_coinbase",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error definitions
var (
	ErrAlreadyPending          = &TxError{Kind: KindAlreadyPending}
	ErrAlreadyCommitted        = &TxError{Kind: KindAlreadyCommitted}
	ErrInvalidSignature        = &TxError{Kind: KindInvalidSignature}
	ErrInvalidProofOfWork      = &TxError{Kind: KindInvalidProofOfWork}
	ErrInvalidSender           = &TxError{Kind: KindInvalidSender}
	ErrInvalidReceiver         = &TxError{Kind: KindInvalidReceiver}
	ErrInvalidNonce            = &TxError{Kind: KindInvalidNonce}
	ErrInvalidType             = &TxError{Kind: KindInvalidType}
	ErrInvalidAmount           = &TxError{Kind: KindInvalidAmount}
	ErrInsufficientFunds       = &TxError{Kind: KindInsufficientFunds}
	ErrAccountNotFound         = &TxError{Kind: KindAccountNotFound}
	ErrCollaboratorUnavailable = &TxError{Kind: KindCollaboratorUnavailable}
	ErrInvalidPayload          = &TxError{Kind: KindInvalidPayload}
	ErrUnauthorized            = &TxError{Kind: KindUnauthorized}
	ErrDuplicateCoinbase       = &TxError{Kind: KindDuplicateCoinbase}
)

// TxError is a classified transaction error. Two TxErrors match under
// errors.Is when their kinds are equal, so callers compare against the
// sentinel values above.
type TxError struct {
	Kind ErrorKind
	Hash string
	Err  error
}

// NewError creates a TxError of the given kind
func NewError(kind ErrorKind, hash string, format string, args ...interface{}) *TxError {
	return &TxError{Kind: kind, Hash: hash, Err: fmt.Errorf(format, args...)}
}

// Unavailable wraps a collaborator failure
func Unavailable(hash string, err error) *TxError {
	return &TxError{Kind: KindCollaboratorUnavailable, Hash: hash, Err: err}
}

func (e *TxError) Error() string {
	msg := e.Kind.String()
	if e.Hash != "" {
		msg = fmt.Sprintf("%s: tx %s", msg, short(e.Hash))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a TxError of the same kind
func (e *TxError) Is(target error) bool {
	t, ok := target.(*TxError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first TxError in err's chain
func KindOf(err error) ErrorKind {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return KindUnknown
}

// IsRejection reports whether err rejects the transaction, as opposed to
// signalling that no decision could be made
func IsRejection(err error) bool {
	kind := KindOf(err)
	return kind != KindUnknown && kind != KindCollaboratorUnavailable
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
