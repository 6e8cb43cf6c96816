package id

import "github.com/google/uuid"

// UUIDGenerator issues random v4 identifiers, optionally prefixed.
type UUIDGenerator struct {
	prefix string
}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func NewPrefixedGenerator(prefix string) *UUIDGenerator {
	return &UUIDGenerator{prefix: prefix}
}

func (g *UUIDGenerator) NewID() string {
	return g.prefix + uuid.NewString()
}
