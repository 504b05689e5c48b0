// Package storage provides the record storage abstraction shared by the
// account table and the audit trail.
package storage

// Repository stores envelopes addressed by namespace, record type and
// record ID. Implementations must be safe for concurrent use.
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	List(namespace string, recordType string) ([]string, error)
	Delete(namespace string, recordType string, recordID string) error
	// PutCAS writes envelope only if the stored version equals
	// expectedVersion. An expectedVersion of 0 means "create only": the
	// write fails if any record already exists under the key.
	PutCAS(namespace string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
}
