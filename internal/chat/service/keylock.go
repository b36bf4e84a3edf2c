package service

import "sync"

// KeyLock is a set of per-key try-locks. A held key rejects new holders
// instead of queueing them.
type KeyLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyLock() *KeyLock {
	return &KeyLock{held: make(map[string]struct{})}
}

// TryAcquire takes key if it is free. The returned release is safe to call
// more than once.
func (k *KeyLock) TryAcquire(key string) (release func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[key]; busy {
		return nil, false
	}
	k.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently taken.
func (k *KeyLock) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

// Len returns the number of held keys.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.held)
}
