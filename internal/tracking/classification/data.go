package classification

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultClasses is the class list used when none is configured.
var DefaultClasses = []string{"Unknown"}

// ErrUnknownClass is returned when a class name is not in the list.
var ErrUnknownClass = errors.New("unknown class")

// Data is an ordered class list. Vector index i refers to Classes()[i].
type Data struct {
	classes []string
	index   map[string]int
}

// NewData builds a class list. Names must be non-empty and unique. An empty
// list falls back to DefaultClasses.
func NewData(classes []string) (*Data, error) {
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	d := &Data{
		classes: make([]string, len(classes)),
		index:   make(map[string]int, len(classes)),
	}
	for i, name := range classes {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("class %d has an empty name", i)
		}
		if _, dup := d.index[name]; dup {
			return nil, fmt.Errorf("duplicate class %q", name)
		}
		d.classes[i] = name
		d.index[name] = i
	}
	return d, nil
}

// Classes returns a copy of the class list.
func (d *Data) Classes() []string {
	return append([]string(nil), d.classes...)
}

// Len returns the number of classes.
func (d *Data) Len() int { return len(d.classes) }

// ClassIndex returns the position of name in the list.
func (d *Data) ClassIndex(name string) (int, error) {
	i, ok := d.index[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownClass, name)
	}
	return i, nil
}

// GetClass returns the name of the most probable class in v. Ties resolve to
// the earliest class in the list.
func (d *Data) GetClass(v Vector) (string, error) {
	if len(v) != len(d.classes) {
		return "", fmt.Errorf("%w: vector has %d entries, %d classes", ErrLengthMismatch, len(v), len(d.classes))
	}
	_, i := v.Max()
	return d.classes[i], nil
}

// Classification returns a vector with probability p on name and the
// remaining 1-p spread evenly over the other classes. With a single class
// the vector is [1].
func (d *Data) Classification(name string, p float64) (Vector, error) {
	i, err := d.ClassIndex(name)
	if err != nil {
		return nil, err
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability %v outside [0, 1]", ErrInvalidVector, p)
	}
	n := len(d.classes)
	v := make(Vector, n)
	if n == 1 {
		v[0] = 1
		return v, nil
	}
	rest := (1 - p) / float64(n-1)
	for j := range v {
		v[j] = rest
	}
	v[i] = p
	return v, nil
}

// Prior returns the uniform distribution over the class list.
func (d *Data) Prior() Vector {
	return d.UniformPrior(1 / float64(len(d.classes)))
}

// UniformPrior returns a vector with every entry set to p. The result is
// not normalized.
func (d *Data) UniformPrior(p float64) Vector {
	v := make(Vector, len(d.classes))
	for i := range v {
		v[i] = p
	}
	return v
}
