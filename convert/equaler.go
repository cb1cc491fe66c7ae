package convert

// The Equaler interface allows objects that implement it to be compared
type Equaler interface {
	// Equal returns true if the Equaler object is the same as this object;
	// otherwise false is returned. You need to convert the Equaler object using
	// type assertions: https://golang.org/ref/spec#Type_assertions
	Equal(Equaler) bool
}

// DummyEqualer implements the Equaler interface and can be used by tests. Other
// than that it has no meaning.
type DummyEqualer struct {
}

// Ensure DummyEqualer implements the Equaler interface
var _ Equaler = DummyEqualer{}
var _ Equaler = (*DummyEqualer)(nil)

// Equal implements Equaler
func (d DummyEqualer) Equal(u Equaler) bool {
	_, ok := u.(DummyEqualer)
	return ok
}
