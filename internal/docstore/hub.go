package docstore

import (
	"sync"

	"github.com/fentz26/todomaster/internal/models"
)

// hub fans snapshots out to watchers. Each watcher holds at most one pending
// snapshot; a newer one replaces it, so slow watchers skip intermediate states
// but always end on the latest.
type hub struct {
	mu   sync.Mutex
	subs map[int]chan []models.Task
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan []models.Task)}
}

func (h *hub) subscribe(initial []models.Task) (int, <-chan []models.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []models.Task, 1)
	ch <- initial
	id := h.next
	h.next++
	h.subs[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *hub) broadcast(tasks []models.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- models.CloneTasks(tasks)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
