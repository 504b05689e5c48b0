package storage

import (
	"encoding/json"
	"fmt"
)

// SchemePlainJSON marks envelopes whose payload is unencrypted JSON. Only
// public data (account public keys, salts, audit entries) is stored this way.
const SchemePlainJSON = "plain-json"

// Envelope is a versioned storage record.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Payload []byte `json:"payload"`
	Version uint64 `json:"version,omitempty"`
}

// SealJSON marshals v into a plain-json envelope.
func SealJSON(v any, version ...uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	env := &Envelope{
		Ver:     1,
		Scheme:  SchemePlainJSON,
		Payload: data,
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env, nil
}

// OpenJSON unmarshals a plain-json envelope into v.
func OpenJSON(envelope *Envelope, v any) error {
	if envelope == nil {
		return ErrNotFound
	}
	if envelope.Ver != 1 {
		return fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemePlainJSON {
		return fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if err := json.Unmarshal(envelope.Payload, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}
