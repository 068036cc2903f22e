package scheduler

// commandQueue is a container/heap of commands, highest priority first and
// submission order among equals.
type commandQueue []*Command

func (q commandQueue) Len() int {
	return len(q)
}

func (q commandQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].handle < q[j].handle
}

func (q commandQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *commandQueue) Push(x any) {
	c := x.(*Command)
	c.index = len(*q)
	*q = append(*q, c)
}

func (q *commandQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	*q = old[:n-1]
	return c
}
