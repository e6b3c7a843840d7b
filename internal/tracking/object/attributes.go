package object

// Attribute keys written by the scene layer. Other keys are free-form and
// carried through unchanged.
const (
	AttrCameraID = "scene.camera_id"
	AttrCategory = "scene.category"
)

// Attributes is a small insertion-ordered string map. The zero value is
// ready to use.
type Attributes struct {
	keys   []string
	values map[string]string
}

// Set stores value under key, keeping the original position of existing keys.
func (a *Attributes) Set(key, value string) {
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Get returns the value for key.
func (a *Attributes) Get(key string) (string, bool) {
	if a == nil || a.values == nil {
		return "", false
	}
	v, ok := a.values[key]
	return v, ok
}

// Delete removes key.
func (a *Attributes) Delete(key string) {
	if a == nil || a.values == nil {
		return
	}
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.keys...)
}

// Len returns the number of entries.
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Merge copies every entry of other into a; later values win.
func (a *Attributes) Merge(other *Attributes) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		a.Set(k, other.values[k])
	}
}

// Clone returns a deep copy.
func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}
	out := &Attributes{}
	out.Merge(a)
	return out
}
