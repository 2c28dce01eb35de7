// Package args adapts typed parsers to flag.Value.
package args

type Adapter[T interface{ String() string }] struct {
	value  T
	parser func(string) (T, error)
	isSet  bool
}

func (i *Adapter[T]) String() string {
	if i == nil || i.parser == nil {
		return ""
	}
	return i.value.String()
}

func (i *Adapter[T]) Set(s string) error {
	v, err := i.parser(s)
	if err != nil {
		return err
	}
	i.isSet = true
	i.value = v
	return nil
}

// Value returns parsed value, or default value if it is not set.
func (i *Adapter[T]) Value() T {
	return i.value
}

func (i *Adapter[T]) IsSet() bool {
	return i.isSet
}

func Parser[T interface{ String() string }](parser func(string) (T, error)) *Adapter[T] {
	return &Adapter[T]{parser: parser}
}

// ParserWithDefault is Parser, but Value() returns def until it is set.
func ParserWithDefault[T interface{ String() string }](parser func(string) (T, error), def T) *Adapter[T] {
	return &Adapter[T]{parser: parser, value: def}
}
