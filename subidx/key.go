package subidx

import "strings"

// Key builds a subscription index key from its dotted components:
// "<sourcePO>.<sourceMailbox>.<major>[.<minor>]". source is already the
// full "poName.mailboxName" address; typ is "major" or "major.minor".
func Key(source, typ string) string {
	return source + "." + typ
}

// MajorKey strips the minor component from typ (if any) before
// building the key, for the major-only probe used by publish lookups.
func MajorKey(source, typ string) string {
	if i := strings.LastIndex(typ, "."); i >= 0 {
		typ = typ[:i]
	}
	return source + "." + typ
}
