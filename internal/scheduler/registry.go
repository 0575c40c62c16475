package scheduler

import (
	"math/rand"
	"slices"
	"time"
)

const (
	idAlphabet = "defbca123456890"
	idLength   = 16
)

// Manager is the ordered collection of live tasks.
//
// The list is kept sorted ascending by next fire time. Manager does no
// locking of its own; the owning Scheduler serializes every call.
type Manager struct {
	list []*Task
	byID map[string]*Task
}

func newManager() *Manager {
	return &Manager{byID: map[string]*Task{}}
}

func (m *Manager) Len() int { return len(m.list) }

func (m *Manager) At(i int) *Task { return m.list[i] }

func (m *Manager) Lookup(id string) *Task { return m.byID[id] }

// IndexOf returns the position of t, or -1 when t is not registered.
func (m *Manager) IndexOf(t *Task) int {
	return slices.Index(m.list, t)
}

// Insert places t at index i. Callers compute i with FindInsertionIndex.
func (m *Manager) Insert(i int, t *Task) {
	i = min(max(i, 0), len(m.list))
	m.list = slices.Insert(m.list, i, t)
	m.byID[t.id] = t
}

// FindInsertionIndex returns the index of the first task, other than
// excludeID, whose fire time is not before at. The index is counted as if
// the excluded task were absent, so it is directly usable by Insert and Move.
func (m *Manager) FindInsertionIndex(at time.Time, excludeID string) int {
	j := 0
	for _, t := range m.list {
		if t.id == excludeID {
			continue
		}
		if !t.nextExecute.Before(at) {
			return j
		}
		j++
	}
	return j
}

// Move removes the task at from and re-inserts it so that it ends up at
// index to of the resulting list.
func (m *Manager) Move(from, to int) {
	if from < 0 || from >= len(m.list) {
		return
	}
	t := m.list[from]
	m.list = slices.Delete(m.list, from, from+1)
	to = min(max(to, 0), len(m.list))
	m.list = slices.Insert(m.list, to, t)
}

// Relocate moves t to the sorted position for its current fire time.
func (m *Manager) Relocate(t *Task) {
	from := m.IndexOf(t)
	if from < 0 {
		return
	}
	m.Move(from, m.FindInsertionIndex(t.nextExecute, t.id))
}

// Remove deletes t by identity and reports whether it was registered.
func (m *Manager) Remove(t *Task) bool {
	i := m.IndexOf(t)
	if i < 0 {
		return false
	}
	m.list = slices.Delete(m.list, i, i+1)
	delete(m.byID, t.id)
	return true
}

// Sort restores the fire time ordering with a stable sort.
func (m *Manager) Sort() {
	slices.SortStableFunc(m.list, func(a, b *Task) int {
		return a.nextExecute.Compare(b.nextExecute)
	})
}

// ExecuteAll calls fn for every task from the back of the list to the
// front. fn may remove the task it was handed.
func (m *Manager) ExecuteAll(fn func(t *Task)) {
	for i := len(m.list); i > 0; {
		i--
		if i < len(m.list) {
			fn(m.list[i])
		}
	}
}

// Sweep hands every awaiting task that is due at now to fire, then resorts
// the list. The due boundary is computed once, so a task rescheduled by fire
// is never visited twice in one pass. It returns the number of fired tasks.
func (m *Manager) Sweep(now time.Time, fire func(t *Task)) int {
	boundary := len(m.list)
	for i, t := range m.list {
		if !t.nextExecute.Before(now) {
			boundary = i
			break
		}
	}
	due := slices.Clone(m.list[:boundary])

	fired := 0
	for _, t := range due {
		if t.status == StatusAwait && !now.Before(t.nextExecute) {
			fire(t)
			fired++
		}
	}
	m.Sort()
	return fired
}

// Snapshot returns a copy of the ordered list.
func (m *Manager) Snapshot() []*Task {
	return slices.Clone(m.list)
}

// GenerateID draws identifiers until one is not used by a live task.
func (m *Manager) GenerateID() string {
	for {
		b := make([]byte, idLength)
		for i := range b {
			b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
		}
		id := string(b)
		if _, taken := m.byID[id]; !taken {
			return id
		}
	}
}
