package thread

import "github.com/iansmith/talon/internal/critsec"

// registry is the kernel-wide thread table, mirroring threads.rs's
// THREADS global (minus its weak-reference bookkeeping, since Go's GC
// already reclaims a Thread once nothing holds it).
type registry struct {
	threads map[uint64]*Thread
}

var global = registry{threads: make(map[uint64]*Thread)}

// Create builds a new thread for process p and registers it so Find
// can look it up by id later.
func Create(p Process, entry, stackTop uintptr) *Thread {
	t := New(p, entry, stackTop)

	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)
	global.threads[t.id] = t

	return t
}

// Find looks a thread up by id.
func Find(id uint64) (*Thread, bool) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	t, ok := global.threads[id]
	return t, ok
}

// Remove drops a thread from the registry once it has finished
// (StateDead) and every handle referencing it has been closed.
func Remove(id uint64) {
	wasEnabled := critsec.Enter()
	defer critsec.Leave(wasEnabled)

	delete(global.threads, id)
}
