package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ExceptionKey identifies the (urn, aspect) pair a validation failure belongs to.
type ExceptionKey struct {
	Urn        Urn
	AspectName string
}

// KeyOf returns the exception key of an item.
func KeyOf(item BatchItem) ExceptionKey {
	return ExceptionKey{Urn: item.Urn(), AspectName: item.AspectName()}
}

func (k ExceptionKey) String() string {
	return fmt.Sprintf("(%s,%s)", k.Urn, k.AspectName)
}

// ValidationException is a structured, per-item rejection reported by a validator.
type ValidationException struct {
	Key        ExceptionKey
	ChangeType ChangeType
	Message    string
	Cause      error
}

// NewValidationException builds a rejection for item.
func NewValidationException(item BatchItem, message string, cause error) ValidationException {
	return ValidationException{Key: KeyOf(item), ChangeType: item.ChangeType(), Message: message, Cause: cause}
}

func (e ValidationException) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Key, e.Message, e.Cause)
}

func (e ValidationException) Unwrap() error { return e.Cause }

func (e ValidationException) sameAs(other ValidationException) bool {
	if e.ChangeType != other.ChangeType || e.Message != other.Message {
		return false
	}
	if (e.Cause == nil) != (other.Cause == nil) {
		return false
	}
	return e.Cause == nil || e.Cause.Error() == other.Cause.Error()
}

// ValidationExceptionCollection maps (urn, aspect) to the set of failures
// recorded for it. A key present in the collection means the item failed.
// The collection is written during validation stages and read afterwards.
type ValidationExceptionCollection struct {
	entries map[ExceptionKey][]ValidationException
}

// NewValidationExceptionCollection returns an empty collection.
func NewValidationExceptionCollection() *ValidationExceptionCollection {
	return &ValidationExceptionCollection{entries: make(map[ExceptionKey][]ValidationException)}
}

// AddException records a failure for item.
func (c *ValidationExceptionCollection) AddException(item BatchItem, message string, cause error) {
	c.Add(NewValidationException(item, message, cause))
}

// Add records e unless an identical failure is already present for its key.
func (c *ValidationExceptionCollection) Add(e ValidationException) {
	if c.entries == nil {
		c.entries = make(map[ExceptionKey][]ValidationException)
	}
	for _, existing := range c.entries[e.Key] {
		if existing.sameAs(e) {
			return
		}
	}
	c.entries[e.Key] = append(c.entries[e.Key], e)
}

// Merge adds every failure of other.
func (c *ValidationExceptionCollection) Merge(other *ValidationExceptionCollection) {
	if other == nil {
		return
	}
	for _, key := range other.Keys() {
		for _, e := range other.entries[key] {
			c.Add(e)
		}
	}
}

// HasKey reports whether any failure is recorded for key.
func (c *ValidationExceptionCollection) HasKey(key ExceptionKey) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[key]
	return ok
}

// Has reports whether item failed.
func (c *ValidationExceptionCollection) Has(item BatchItem) bool {
	return c.HasKey(KeyOf(item))
}

// Len returns the number of failed (urn, aspect) pairs.
func (c *ValidationExceptionCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// IsEmpty reports whether nothing failed.
func (c *ValidationExceptionCollection) IsEmpty() bool { return c.Len() == 0 }

// Keys returns the failed keys sorted by their string form.
func (c *ValidationExceptionCollection) Keys() []ExceptionKey {
	if c == nil {
		return nil
	}
	keys := make([]ExceptionKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Exceptions returns the failures recorded for key in insertion order.
func (c *ValidationExceptionCollection) Exceptions(key ExceptionKey) []ValidationException {
	if c == nil {
		return nil
	}
	return append([]ValidationException(nil), c.entries[key]...)
}

// All returns every failure ordered by key.
func (c *ValidationExceptionCollection) All() []ValidationException {
	var out []ValidationException
	for _, key := range c.Keys() {
		out = append(out, c.entries[key]...)
	}
	return out
}

func (c *ValidationExceptionCollection) String() string {
	parts := make([]string, 0, c.Len())
	for _, key := range c.Keys() {
		msgs := make([]string, 0, len(c.entries[key]))
		for _, e := range c.entries[key] {
			msgs = append(msgs, e.Message)
		}
		parts = append(parts, fmt.Sprintf("EntityAspect:%s Exceptions: [%s]", key, strings.Join(msgs, ", ")))
	}
	return "ValidationExceptionCollection{" + strings.Join(parts, "; ") + "}"
}

// Successful returns the items without a recorded failure, in their original order.
func Successful[T BatchItem](c *ValidationExceptionCollection, items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !c.Has(item) {
			out = append(out, item)
		}
	}
	return out
}

// Failed returns the items with a recorded failure, in their original order.
func Failed[T BatchItem](c *ValidationExceptionCollection, items []T) []T {
	var out []T
	for _, item := range items {
		if c.Has(item) {
			out = append(out, item)
		}
	}
	return out
}
