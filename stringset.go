package confclient

type StringSet map[string]Signal

func NewStringSet() StringSet {
	return make(StringSet)
}

func NewStringSetSized(size int) StringSet {
	return make(StringSet, size)
}

func (set StringSet) Add(value string) {
	set[value] = SignalInstance
}

func (set StringSet) Remove(value string) {
	delete(set, value)
}

func (set StringSet) Contains(value string) bool {
	_, ok := set[value]
	return ok
}

func (set StringSet) GetSlice() []string {
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	return values
}
