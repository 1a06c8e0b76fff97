package xid

import "github.com/google/uuid"

// New returns a prefixed random id such as "ord-3f0c…".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
