// Package store persists conversations for the session manager.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"medsight/internal/domain"
)

// DefaultRetention is how long stored conversations are kept when Cleanup
// is called with a non-positive age.
const DefaultRetention = 90 * 24 * time.Hour

// Option configures a store.
type Option func(*options)

type options struct {
	encryptor domain.ContentEncryptor
	logger    *slog.Logger
}

// WithEncryptor encrypts conversation payloads at rest.
func WithEncryptor(enc domain.ContentEncryptor) Option {
	return func(o *options) { o.encryptor = enc }
}

// WithLogger sets the logger used for skipped or unreadable entries.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// encode marshals conv and encrypts the result when an encryptor is set.
func (o options) encode(conv *domain.Conversation) ([]byte, error) {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	if o.encryptor == nil {
		return data, nil
	}
	enc, err := o.encryptor.Encrypt(string(data))
	if err != nil {
		return nil, err
	}
	return []byte(enc), nil
}

// decode reverses encode. Encrypted payloads without a configured encryptor
// fail with ErrDecryption.
func (o options) decode(op string, data []byte) (*domain.Conversation, error) {
	if len(data) > 0 && data[0] != '{' {
		if o.encryptor == nil {
			return nil, domain.NewDomainError(op, domain.ErrDecryption, "payload is encrypted but no key is configured")
		}
		plain, err := o.encryptor.Decrypt(string(data))
		if err != nil {
			return nil, err
		}
		data = []byte(plain)
	}
	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%s: unmarshal conversation: %w", op, err)
	}
	return &conv, nil
}

func retentionOrDefault(maxAge time.Duration) time.Duration {
	if maxAge <= 0 {
		return DefaultRetention
	}
	return maxAge
}
