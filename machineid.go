package confclient

import (
	"sync"

	"github.com/google/uuid"
)

// MachineIDStore holds the process-scoped machine identifier. The first Get
// generates a uuid, SetMachineID lets an embedder restore an identifier it
// persisted across restarts. Explicit accessors instead of a hidden
// module-level cache.
type MachineIDStore struct {
	mu sync.Mutex
	id string
}

func (store *MachineIDStore) Get() string {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.id == "" {
		store.id = uuid.NewString()
	}
	return store.id
}

func (store *MachineIDStore) Set(id string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.id = id
}

var processMachineID MachineIDStore

func MachineID() string {
	return processMachineID.Get()
}

func SetMachineID(id string) {
	processMachineID.Set(id)
}
