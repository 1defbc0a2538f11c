package menusync

// Accessor reads and writes one piece of state owned by a host object.
// It is bound once when the registry is built.
type Accessor[T any] interface {
	Get() T
	Set(T)
}

type fieldAccessor[T any] struct{ p *T }

func (a fieldAccessor[T]) Get() T  { return *a.p }
func (a fieldAccessor[T]) Set(v T) { *a.p = v }

// Field binds an accessor directly to a field.
func Field[T any](p *T) Accessor[T] { return fieldAccessor[T]{p: p} }

// Slot is one independently tracked unit of replicated state.
//
// Writes re-read the live value, record it as the last sent value and encode it,
// leaving the slot clean. Reads only stage a decoded value; Commit applies it to
// the owner and marks the slot clean, Discard drops it.
type Slot interface {
	NeedsSyncing() bool
	WriteFull(b *Buffer)
	WriteDelta(b *Buffer)
	ReadFull(r *Reader) error
	ReadDelta(r *Reader) error
	Commit()
	Discard()
}

// Codec encodes one value type. WriteDelta/ReadDelta may be nil, in which case
// the delta form is the full form.
type Codec[T any] struct {
	Write func(b *Buffer, v T)
	Read  func(r *Reader) (T, error)

	// WriteDelta encodes cur relative to prev, the last value sent.
	WriteDelta func(b *Buffer, prev, cur T)
	// ReadDelta decodes onto base, the receiver's current value.
	ReadDelta func(r *Reader, base T) (T, error)
}

// ValueSlot tracks a comparable value through an Accessor.
type ValueSlot[T comparable] struct {
	acc   Accessor[T]
	codec Codec[T]
	equal func(a, b T) bool

	current T
	pending T
	staged  bool
}

// NewValueSlot builds a slot whose shadow starts at the zero value, so a
// non-zero source is dirty until its first sync.
func NewValueSlot[T comparable](acc Accessor[T], codec Codec[T]) *ValueSlot[T] {
	return &ValueSlot[T]{acc: acc, codec: codec}
}

// WithEqual overrides == for change detection.
func (s *ValueSlot[T]) WithEqual(eq func(a, b T) bool) *ValueSlot[T] {
	s.equal = eq
	return s
}

func (s *ValueSlot[T]) same(a, b T) bool {
	if s.equal != nil {
		return s.equal(a, b)
	}
	return a == b
}

// Current returns the last value sent or applied.
func (s *ValueSlot[T]) Current() T { return s.current }

func (s *ValueSlot[T]) NeedsSyncing() bool {
	return !s.same(s.acc.Get(), s.current)
}

func (s *ValueSlot[T]) WriteFull(b *Buffer) {
	s.current = s.acc.Get()
	s.codec.Write(b, s.current)
}

func (s *ValueSlot[T]) WriteDelta(b *Buffer) {
	if s.codec.WriteDelta == nil {
		s.WriteFull(b)
		return
	}
	prev := s.current
	s.current = s.acc.Get()
	s.codec.WriteDelta(b, prev, s.current)
}

func (s *ValueSlot[T]) ReadFull(r *Reader) error {
	v, err := s.codec.Read(r)
	if err != nil {
		return err
	}
	s.pending, s.staged = v, true
	return nil
}

func (s *ValueSlot[T]) ReadDelta(r *Reader) error {
	if s.codec.ReadDelta == nil {
		return s.ReadFull(r)
	}
	v, err := s.codec.ReadDelta(r, s.acc.Get())
	if err != nil {
		return err
	}
	s.pending, s.staged = v, true
	return nil
}

func (s *ValueSlot[T]) Commit() {
	if !s.staged {
		return
	}
	s.acc.Set(s.pending)
	s.current = s.pending
	s.Discard()
}

func (s *ValueSlot[T]) Discard() {
	var zero T
	s.pending, s.staged = zero, false
}
