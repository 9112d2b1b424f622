package latchtree

import "latchtree/internal/replication"

// newReplication wires the default local-file Replication implementation.
// Its method set already matches the Replication interface verbatim, so
// no adapter is needed beyond this constructor.
func newReplication(path string) (Replication, error) {
	return replication.Open(path)
}
