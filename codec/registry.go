// Package codec maps CAN identifiers to typed decode/encode pairs.
//
// A Registry holds the codecs of one frame family. Families are kept in
// separate registries because some identifiers (0x351, 0x355, 0x356) mean
// different things on the battery bus and on the inverter bus.
package codec

import (
	"errors"
	"fmt"
	"sort"
)

var ErrDuplicateID = errors.New("codec: duplicate identifier")

// Codec describes one frame layout. Length is both the minimum length
// accepted by Decode and the length produced by Encode.
type Codec struct {
	ID       uint32
	Name     string
	Length   uint8
	Extended bool

	decode func(data []byte, state any) bool
	encode func(state any, buf *[8]byte) bool
}

// New builds a codec for the record type T. The decoder receives exactly
// Length bytes; it reports false when the frame carries a reserved tag and
// the record was left untouched. The encoder writes into a buffer that has
// already been zeroed.
func New[T any](id uint32, name string, length uint8, dec func(data []byte, v *T) bool, enc func(v *T, buf *[8]byte)) Codec {
	return Codec{
		ID:       id,
		Name:     name,
		Length:   length,
		Extended: id > 0x7FF,
		decode: func(data []byte, state any) bool {
			v, ok := state.(*T)
			if !ok || v == nil {
				return false
			}
			return dec(data, v)
		},
		encode: func(state any, buf *[8]byte) bool {
			v, ok := state.(*T)
			if !ok || v == nil {
				return false
			}
			enc(v, buf)
			return true
		},
	}
}

// always adapts a decoder that has no reserved tags.
func always[T any](dec func(data []byte, v *T)) func([]byte, *T) bool {
	return func(data []byte, v *T) bool {
		dec(data, v)
		return true
	}
}

// Registry is a static id -> codec table for one frame family. It is
// populated at startup and read-only afterwards.
type Registry struct {
	name   string
	codecs map[uint32]Codec
}

func NewRegistry(name string) *Registry {
	return &Registry{name: name, codecs: make(map[uint32]Codec)}
}

func (r *Registry) Name() string { return r.name }

// Register adds c, failing if its identifier is already present.
func (r *Registry) Register(c Codec) error {
	if _, ok := r.codecs[c.ID]; ok {
		return fmt.Errorf("%s 0x%03X (%s): %w", r.name, c.ID, c.Name, ErrDuplicateID)
	}
	r.codecs[c.ID] = c
	return nil
}

func (r *Registry) mustRegister(cs ...Codec) *Registry {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Merge copies every codec of other into r.
func (r *Registry) Merge(other *Registry) error {
	for _, id := range other.IDs() {
		if err := r.Register(other.codecs[id]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Lookup(id uint32) (Codec, bool) {
	c, ok := r.codecs[id]
	return c, ok
}

// IDs returns the registered identifiers in ascending order.
func (r *Registry) IDs() []uint32 {
	ids := make([]uint32, 0, len(r.codecs))
	for id := range r.codecs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Decode runs the codec for id over the first length bytes of data. Unknown
// identifiers and frames shorter than the codec's length are ignored. The
// return value reports whether state was updated.
func (r *Registry) Decode(id uint32, data []byte, length uint8, state any) bool {
	c, ok := r.codecs[id]
	if !ok {
		return false
	}
	if length < c.Length || len(data) < int(c.Length) {
		return false
	}
	return c.decode(data[:c.Length], state)
}

// Encode zeroes buf and writes the frame for id from state. It returns the
// frame length, or false for an unknown id or a state of the wrong type.
func (r *Registry) Encode(id uint32, state any, buf *[8]byte) (uint8, bool) {
	*buf = [8]byte{}
	c, ok := r.codecs[id]
	if !ok {
		return 0, false
	}
	if !c.encode(state, buf) {
		return 0, false
	}
	return c.Length, true
}

// Decoder returns a function suitable for a dispatcher subscription on id.
func (r *Registry) Decoder(id uint32) func(data []byte, length uint8, state any) {
	return func(data []byte, length uint8, state any) {
		r.Decode(id, data, length, state)
	}
}

// Encoder returns a function suitable for a dispatcher publisher on id.
func (r *Registry) Encoder(id uint32) func(state any, buf *[8]byte) uint8 {
	return func(state any, buf *[8]byte) uint8 {
		n, _ := r.Encode(id, state, buf)
		return n
	}
}
