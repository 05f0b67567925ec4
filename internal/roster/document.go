package roster

import (
	"sort"
	"strconv"
	"strings"
)

// Document is the per-tenant source of truth. It is loaded, mutated and saved
// wholesale inside one critical section per operation; nothing outside that
// cycle may hold on to it.
type Document struct {
	Config      Config              `json:"config"`
	Assignments map[string]string   `json:"assignments"` // member id -> number
	Reserved    []string            `json:"reserved"`    // sorted, set semantics
	Requests    map[string]*Request `json:"requests"`
}

// NewDocument returns the empty default document for a tenant with no state.
func NewDocument() *Document {
	return &Document{
		Assignments: make(map[string]string),
		Reserved:    []string{},
		Requests:    make(map[string]*Request),
	}
}

// normalize repairs nil maps after JSON decoding of sparse documents.
func (d *Document) normalize() {
	if d.Assignments == nil {
		d.Assignments = make(map[string]string)
	}
	if d.Reserved == nil {
		d.Reserved = []string{}
	}
	if d.Requests == nil {
		d.Requests = make(map[string]*Request)
	}
}

// NumberInUse reports whether the number is currently assigned to any member.
func (d *Document) NumberInUse(number string) bool {
	for _, n := range d.Assignments {
		if n == number {
			return true
		}
	}
	return false
}

// NumberReserved reports whether the number is locked by a pending request.
func (d *Document) NumberReserved(number string) bool {
	i := sort.SearchStrings(d.Reserved, number)
	return i < len(d.Reserved) && d.Reserved[i] == number
}

// NumberAvailable reports whether the number is neither assigned nor reserved.
func (d *Document) NumberAvailable(number string) bool {
	return !d.NumberInUse(number) && !d.NumberReserved(number)
}

// Reserve adds the number to the reserved set. Idempotent.
func (d *Document) Reserve(number string) {
	if number == "" || d.NumberReserved(number) {
		return
	}
	i := sort.SearchStrings(d.Reserved, number)
	d.Reserved = append(d.Reserved, "")
	copy(d.Reserved[i+1:], d.Reserved[i:])
	d.Reserved[i] = number
}

// Release removes the number from the reserved set. No-op for empty or
// absent numbers.
func (d *Document) Release(number string) {
	if number == "" {
		return
	}
	i := sort.SearchStrings(d.Reserved, number)
	if i < len(d.Reserved) && d.Reserved[i] == number {
		d.Reserved = append(d.Reserved[:i], d.Reserved[i+1:]...)
	}
}

// Assign records the number for the member and drops any reservation on it.
// Availability is the caller's responsibility; the decision workflow checks
// it inside the same critical section.
func (d *Document) Assign(memberID, number string) {
	d.Assignments[memberID] = number
	d.Release(number)
}

// Unassign removes the member's number and returns the prior value, or ""
// when the member had none.
func (d *Document) Unassign(memberID string) string {
	prev, ok := d.Assignments[memberID]
	if !ok {
		return ""
	}
	delete(d.Assignments, memberID)
	return prev
}

// OwnerOf returns the member currently holding the number.
func (d *Document) OwnerOf(number string) (string, bool) {
	for member, n := range d.Assignments {
		if n == number {
			return member, true
		}
	}
	return "", false
}

// Assignment is one roster row.
type Assignment struct {
	MemberID string `json:"member_id"`
	Number   string `json:"number"`
}

// SortedAssignments lists the roster ordered by number: all-numeric numbers
// first in ascending numeric order, then the rest lexicographically.
func (d *Document) SortedAssignments() []Assignment {
	out := make([]Assignment, 0, len(d.Assignments))
	for member, n := range d.Assignments {
		out = append(out, Assignment{MemberID: member, Number: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return numberLess(out[i].Number, out[j].Number)
	})
	return out
}

func numberLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return strings.ToLower(a) < strings.ToLower(b)
	}
}
