package conn

import (
	"strings"
	"sync"

	"github.com/lib/pq"
)

// Notice is one server message raised outside of an error.
type Notice struct {
	Severity string
	Code     string
	Message  string
}

func (n Notice) String() string {
	return n.Severity + ": " + n.Message
}

// IsWarning reports whether the server raised it at WARNING level.
func (n Notice) IsWarning() bool {
	return strings.EqualFold(n.Severity, "WARNING")
}

// NoticeBuffer collects notices for one connection between drains.
type NoticeBuffer struct {
	mu      sync.Mutex
	notices []Notice
}

// Add is a pq notice handler.
func (b *NoticeBuffer) Add(e *pq.Error) {
	if e == nil {
		return
	}
	b.Append(Notice{Severity: e.Severity, Code: string(e.Code), Message: e.Message})
}

func (b *NoticeBuffer) Append(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, n)
}

// Drain returns and clears the buffered notices.
func (b *NoticeBuffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// Warnings keeps WARNING-level notices only.
func Warnings(notices []Notice) []Notice {
	var out []Notice
	for _, n := range notices {
		if n.IsWarning() {
			out = append(out, n)
		}
	}
	return out
}
