package broker

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NameGenerator produces candidate stream names. Candidates only need to
// make collisions unlikely, the registry handles the rest.
type NameGenerator func() string

// UUIDNames generates urn:uuid names from random version 4 uuids
func UUIDNames() string {
	return "urn:uuid:" + uuid.NewString()
}

var ulidEntropy = struct {
	sync.Mutex
	*ulid.MonotonicEntropy
}{MonotonicEntropy: ulid.Monotonic(rand.Reader, 0)}

// ULIDNames generates urn:ulid names which sort by creation time
func ULIDNames() string {
	ulidEntropy.Lock()
	defer ulidEntropy.Unlock()
	return "urn:ulid:" + ulid.MustNew(ulid.Now(), ulidEntropy.MonotonicEntropy).String()
}

// NamesByKind picks a generator from its config name, "uuid" or "ulid"
func NamesByKind(kind string) (NameGenerator, bool) {
	switch kind {
	case "", "uuid":
		return UUIDNames, true
	case "ulid":
		return ULIDNames, true
	}
	return nil, false
}
