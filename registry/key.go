// Package registry holds the shared mutable state joining simulation
// mutation to network delivery: the Connection Registry maps opaque
// connection identities to live Sessions, and the Subscription Registry
// tracks which connections observe which properties. Both are passed
// explicitly into the components that need them so ownership and teardown
// order stay visible.
package registry

import "fmt"

// ConnectionKey is the opaque, generation-safe identity of one live
// connection. It is an arena-style generational index: a slot in the
// connection table plus a generation counter bumped on every reuse, so a
// stale key held by a finalized subscription can never alias a newly
// registered, unrelated connection. The zero value is never issued.
type ConnectionKey struct {
	slot uint32
	gen  uint32
}

// Valid reports whether the key was ever issued by a registry. It does not
// mean the connection is still live.
func (k ConnectionKey) Valid() bool {
	return k.gen != 0
}

// String renders the key for logging.
func (k ConnectionKey) String() string {
	return fmt.Sprintf("conn-%d.%d", k.slot, k.gen)
}

// PropertyIdent identifies one property: the owning entity plus the
// attribute name.
type PropertyIdent struct {
	Entity string
	Name   string
}

// String renders the identity for logging and feed subjects.
func (i PropertyIdent) String() string {
	return i.Entity + "." + i.Name
}
