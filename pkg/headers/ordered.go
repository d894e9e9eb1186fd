package headers

import (
	"iter"
	"strings"
	"sync"
)

// Kind tells whether an Entry is the start line of a header block or a field
type Kind int

const (
	KindField Kind = iota
	KindStartLine
)

func (k Kind) String() string {
	if k == KindStartLine {
		return "start-line"
	}
	return "field"
}

// Entry is one element of a header block: the status/request line or a
// name-value field
type Entry struct {
	Kind  Kind
	Name  string // field name, empty for the start line
	Value string // field value, or the start line text
}

// StartLine returns a start line entry
func StartLine(text string) Entry {
	return Entry{Kind: KindStartLine, Value: text}
}

// Field returns a name-value entry
func Field(name, value string) Entry {
	return Entry{Kind: KindField, Name: name, Value: value}
}

// IsStartLine reports whether the entry is the status or request line
func (e Entry) IsStartLine() bool {
	return e.Kind == KindStartLine
}

// String renders the entry the way it appears on the wire, without line ending
func (e Entry) String() string {
	if e.Kind == KindStartLine {
		return e.Value
	}
	return e.Name + ": " + e.Value
}

// List is an ordered header block. At most one start line is kept and it is
// always the first entry. Lookups are case-insensitive and return the first
// match.
type List struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewList creates an empty List
func NewList() *List {
	return &List{entries: make([]Entry, 0, 8)}
}

// NewListWithStartLine creates a List whose first entry is the given start line
func NewListWithStartLine(line string) *List {
	l := NewList()
	l.entries = append(l.entries, StartLine(line))
	return l
}

// SetStartLine sets or replaces the start line
func (l *List) SetStartLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) > 0 && l.entries[0].Kind == KindStartLine {
		l.entries[0].Value = line
		return
	}
	l.entries = append([]Entry{StartLine(line)}, l.entries...)
}

// StartLine returns the start line, if any
func (l *List) StartLine() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) > 0 && l.entries[0].Kind == KindStartLine {
		return l.entries[0].Value, true
	}
	return "", false
}

// Add appends a field without replacing existing ones
func (l *List) Add(name, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Field(name, value))
}

// AddLine appends a raw header line. The first line added to an empty list
// is taken as the start line; every later line is split into a field.
func (l *List) AddLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		l.entries = append(l.entries, StartLine(line))
		return
	}
	name, value := SplitLine(line)
	l.entries = append(l.entries, Field(name, value))
}

// Set replaces the first field with the given name, or appends it
func (l *List) Set(name, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].Kind == KindField && strings.EqualFold(l.entries[i].Name, name) {
			l.entries[i].Value = value
			return
		}
	}
	l.entries = append(l.entries, Field(name, value))
}

// Get returns the value of the first field matching name (case-insensitive)
func (l *List) Get(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return lookup(l.entries, name)
}

// Values returns every value of the fields matching name, in order
func (l *List) Values(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var values []string
	for _, e := range l.entries {
		if e.Kind == KindField && strings.EqualFold(e.Name, name) {
			values = append(values, e.Value)
		}
	}
	return values
}

// Has checks if a field exists (case-insensitive)
func (l *List) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Len returns the number of entries, start line included
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

// Fields returns a copy of the name-value entries, in order
func (l *List) Fields() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fields := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Kind == KindField {
			fields = append(fields, e)
		}
	}
	return fields
}

// All iterates over a snapshot of the entries, start line first
func (l *List) All() iter.Seq[Entry] {
	l.mu.RLock()
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	return func(yield func(Entry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// Clone returns an independent copy of the list
func (l *List) Clone() *List {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c := &List{entries: make([]Entry, len(l.entries))}
	copy(c.entries, l.entries)
	return c
}

// Reset removes every entry
func (l *List) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = l.entries[:0]
}

// Lookup scans fields for the first case-insensitive match of name
func Lookup(fields []Entry, name string) (string, bool) {
	return lookup(fields, name)
}

func lookup(entries []Entry, name string) (string, bool) {
	for _, e := range entries {
		if e.Kind == KindField && strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// SplitLine splits "Name: value" the way legacy header iterators do: the
// name runs up to the first colon, spaces after the colon are skipped and
// the rest is the value. A line without a colon is all name.
func SplitLine(line string) (name, value string) {
	line = strings.TrimRight(line, "\r\n")
	colon := strings.IndexByte(line, ':')
	if colon == -1 {
		return line, ""
	}
	return line[:colon], strings.TrimLeft(line[colon+1:], " ")
}
