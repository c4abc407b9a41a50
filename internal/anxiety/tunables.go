package anxiety

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ehrlich-b/go-iosched/internal/elevator"
)

// AttrMaxWritesStarved is the tunable controlling the starvation threshold
const AttrMaxWritesStarved = "max_writes_starved"

// ErrInvalidInput is returned when a tunable value does not parse
var ErrInvalidInput = errors.New("invalid input")

// Attrs exposes max_writes_starved
func (s *Scheduler) Attrs() []elevator.Attr {
	return []elevator.Attr{
		{
			Name:  AttrMaxWritesStarved,
			Show:  s.showMaxWritesStarved,
			Store: s.storeMaxWritesStarved,
		},
	}
}

func (s *Scheduler) showMaxWritesStarved() string {
	return fmt.Sprintf("%d\n", s.MaxWritesStarved())
}

func (s *Scheduler) storeMaxWritesStarved(value string) error {
	v, err := ParseUint8(value)
	if err != nil {
		return err
	}
	s.SetMaxWritesStarved(v)
	return nil
}

// ParseUint8 parses an unsigned 8-bit value the way attribute writes are
// accepted: one trailing newline is allowed, a 0x prefix selects hex and a
// leading 0 selects octal.
func ParseUint8(value string) (uint8, error) {
	s := strings.TrimSuffix(value, "\n")
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInput, value)
	}

	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}
	if s == "" || strings.ContainsRune(s, '_') {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInput, value)
	}

	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInput, value)
	}
	return uint8(v), nil
}
