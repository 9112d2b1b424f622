package latchtree

// notLoadedValue is the sentinel slice identity used to distinguish "value
// deliberately not fetched" (NotLoaded) from "entry missing" (nil) and from
// a genuine zero-length value ([]byte{}). Sentinels are modeled as
// distinguished variants via identity comparison against a package-private
// singleton, never against a mutable global.
var notLoadedValue = []byte("\x00latchtree:not-loaded\x00")

// NotLoaded is returned as a Cursor's value when the key was located but
// its value was not copied out, e.g. because the lock could not be
// acquired immediately during a read-path probe.
func NotLoaded() []byte { return notLoadedValue }

// IsNotLoaded reports whether v is the NotLoaded sentinel.
func IsNotLoaded(v []byte) bool {
	return len(v) == len(notLoadedValue) && &v[0] == &notLoadedValue[0]
}

// modifyInsertValue and modifyReplaceValue are sentinels for FindAndModify's
// "expected" parameter: ModifyInsert means "succeed only if absent",
// ModifyReplace means "succeed regardless of the current value, as long as
// the key already exists".
var (
	modifyInsertValue  = []byte("\x00latchtree:modify-insert\x00")
	modifyReplaceValue = []byte("\x00latchtree:modify-replace\x00")
)

// ModifyInsert is the FindAndModify expected-value sentinel meaning "only
// succeed if the key does not currently exist".
func ModifyInsert() []byte { return modifyInsertValue }

// ModifyReplace is the FindAndModify expected-value sentinel meaning "only
// succeed if the key currently exists, regardless of its value".
func ModifyReplace() []byte { return modifyReplaceValue }

func isModifyInsert(v []byte) bool {
	return len(v) == len(modifyInsertValue) && &v[0] == &modifyInsertValue[0]
}

func isModifyReplace(v []byte) bool {
	return len(v) == len(modifyReplaceValue) && &v[0] == &modifyReplaceValue[0]
}

// ghost is the in-memory marker for a logically deleted but lock-retained
// entry: present in the leaf with a nil value.
func isGhost(value []byte) bool {
	return value == nil
}

// descentVariant parameterizes the single descent function shared by all
// of find/findGe/findGt/findLe/findLt/findAndStore/findAndModify, replacing
// the source's VARIANT_* integer constants with an explicit enum.
type descentVariant int

const (
	variantRegular descentVariant = iota // normal lock-then-copy semantics
	variantRetain                        // like regular, but never releases the root's lock context early
	variantNoLock                        // skip lock-manager interaction entirely (caller already holds the lock)
	variantCheck                         // probe only: position the cursor, acquire no new lock
)
