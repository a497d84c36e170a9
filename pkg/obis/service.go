package obis

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts the dotted "GG.RR.KK*TT" form into a Code.
func Parse(s string) (Code, error) {
	var parts [4]string
	body, tariff, ok := strings.Cut(s, "*")
	if !ok {
		return Code{}, fmt.Errorf("invalid OBIS code %q: missing tariff selector", s)
	}
	fields := strings.Split(body, ".")
	if len(fields) != 3 {
		return Code{}, fmt.Errorf("invalid OBIS code %q: want GG.RR.KK*TT", s)
	}
	copy(parts[:], fields)
	parts[3] = tariff

	var raw [4]byte
	for i, p := range parts {
		if len(p) != 2 {
			return Code{}, fmt.Errorf("invalid OBIS code %q: field %q is not two hex digits", s, p)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Code{}, fmt.Errorf("invalid OBIS code %q: field %q is not two hex digits", s, p)
		}
		raw[i] = byte(v)
	}
	return Code{Group: raw[0], Register: raw[1], Kind: raw[2], Tariff: raw[3]}, nil
}

// MustParse is Parse for static code tables.
func MustParse(s string) Code {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Packed returns the wire form of the code, e.g. "600100FF".
// Mode C commands carry the code with separators removed.
func (c Code) Packed() string {
	return fmt.Sprintf("%02X%02X%02X%02X", c.Group, c.Register, c.Kind, c.Tariff)
}

func (c Code) String() string {
	return fmt.Sprintf("%02X.%02X.%02X*%02X", c.Group, c.Register, c.Kind, c.Tariff)
}

// Registry resolves codes to quantity entries. Lookup prefers an exact
// match over a tariff-selector or register-family wildcard.
type Registry struct {
	exact map[Code]Entry
	wild  []Entry
}

func NewRegistry(entries []Entry) *Registry {
	r := &Registry{exact: make(map[Code]Entry, len(entries))}
	for _, e := range entries {
		if e.AnyRegister || e.Code.Tariff == WildTariff {
			r.wild = append(r.wild, e)
		}
		r.exact[e.Code] = e
	}
	return r
}

// Lookup resolves a concrete code. An entry with the wildcard tariff
// selector matches any selector for the same register; an AnyRegister
// entry matches the whole register family.
func (r *Registry) Lookup(c Code) (Entry, bool) {
	if e, ok := r.exact[c]; ok {
		return e, true
	}
	for _, e := range r.wild {
		if e.Code.Group != c.Group || e.Code.Kind != c.Kind {
			continue
		}
		if e.AnyRegister {
			return e, true
		}
		if e.Code.Register == c.Register {
			return e, true
		}
	}
	return Entry{}, false
}

// ByName resolves a registry entry by its quantity name.
func (r *Registry) ByName(name string) (Entry, bool) {
	for _, e := range r.exact {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
