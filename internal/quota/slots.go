package quota

// SlotTracker holds a fixed number of job slots. A slot is empty or holds a
// reservation id, later replaced in place by the task id it turned into.
// It is not safe for concurrent use; Set serializes access.
type SlotTracker struct {
	capacity int
	// slots may be longer than capacity after a Resize that shrank below
	// the number of held ids.
	slots []string
}

func NewSlotTracker(capacity int) *SlotTracker {
	if capacity <= 0 {
		return &SlotTracker{}
	}
	return &SlotTracker{capacity: capacity, slots: make([]string, capacity)}
}

func (s *SlotTracker) unlimited() bool { return s.capacity == 0 }

// Reserve writes id into the first empty slot. It returns false when every
// slot is taken.
func (s *SlotTracker) Reserve(id string) bool {
	if s.unlimited() {
		return true
	}
	if id == "" || s.Used() >= s.capacity {
		return false
	}
	for i, v := range s.slots {
		if v == "" {
			s.slots[i] = id
			return true
		}
	}
	return false
}

// Commit replaces the reservation with the task id. It returns false when
// the reservation is not held.
func (s *SlotTracker) Commit(reservationID, taskID string) bool {
	if s.unlimited() {
		return true
	}
	for i, v := range s.slots {
		if v == reservationID && v != "" {
			s.slots[i] = taskID
			return true
		}
	}
	return false
}

// Release clears the slot holding id. Releasing an unknown id is a no-op.
func (s *SlotTracker) Release(id string) bool {
	if s.unlimited() || id == "" {
		return false
	}
	for i, v := range s.slots {
		if v == id {
			s.slots[i] = ""
			return true
		}
	}
	return false
}

// Resize changes the capacity and keeps every held id. When more ids are
// held than the new capacity allows, Reserve fails until enough of them
// are released. Switching to unlimited forgets the held ids.
func (s *SlotTracker) Resize(capacity int) {
	if capacity <= 0 {
		s.capacity, s.slots = 0, nil
		return
	}
	held := make([]string, 0, len(s.slots))
	for _, v := range s.slots {
		if v != "" {
			held = append(held, v)
		}
	}
	slots := make([]string, max(capacity, len(held)))
	copy(slots, held)
	s.capacity, s.slots = capacity, slots
}

func (s *SlotTracker) Used() int {
	n := 0
	for _, v := range s.slots {
		if v != "" {
			n++
		}
	}
	return n
}

// Capacity returns the slot limit; zero means unlimited.
func (s *SlotTracker) Capacity() int { return s.capacity }
