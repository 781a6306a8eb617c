package cache

// lruNode links one ready page into the recency list.
type lruNode struct {
	index int
	prev  *lruNode
	next  *lruNode
}

// lruList orders ready pages by last use. The head is the most recently
// used page and the tail the least recently used.
//
// The list is not thread-safe; Cache guards it with its mutex.
type lruList struct {
	head *lruNode
	tail *lruNode
	len  int
}

// Len returns the number of linked pages.
func (l *lruList) Len() int {
	return l.len
}

// PushFront links index as the most recently used page.
func (l *lruList) PushFront(index int) *lruNode {
	node := &lruNode{index: index}
	l.linkFront(node)
	return node
}

// MoveToFront marks node as the most recently used page.
func (l *lruList) MoveToFront(node *lruNode) {
	if node == nil || node == l.head {
		return
	}
	l.unlink(node)
	l.linkFront(node)
}

// Remove unlinks node. A nil node is ignored.
func (l *lruList) Remove(node *lruNode) {
	if node == nil {
		return
	}
	l.unlink(node)
}

// Walk visits pages from least to most recently used until fn returns
// false. fn may remove the node it is given.
func (l *lruList) Walk(fn func(index int) bool) {
	for node := l.tail; node != nil; {
		prev := node.prev
		if !fn(node.index) {
			return
		}
		node = prev
	}
}

// Clear drops every node.
func (l *lruList) Clear() {
	l.head = nil
	l.tail = nil
	l.len = 0
}

func (l *lruList) linkFront(node *lruNode) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.len++
}

func (l *lruList) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	l.len--
}
