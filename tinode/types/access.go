package types

import (
	"encoding/json"
	"errors"
	"strings"
)

// AccessBits is one side of an access mode: a bitmask of permission flags.
type AccessBits uint

// Permission bits. One letter per bit on the wire.
const (
	ModeJoin    AccessBits = 1 << iota // subscribe to the topic, i.e. {sub} (J:1)
	ModeRead                           // receive broadcasts ({data}, {info}) (R:2)
	ModeWrite                          // publish, i.e. {pub} (W:4)
	ModePres                           // receive presence updates (P:8)
	ModeApprove                        // approve new members, evict existing ones (A:0x10)
	ModeShare                          // invite new members (S:0x20)
	ModeDelete                         // hard-delete messages (D:0x40)
	ModeOwner                          // full control of the topic (O:0x80)
	ModeUnset                          // mode is not yet known (0x100), distinct from ModeNone

	ModeNone AccessBits = 0 // explicitly no access (N)

	// ModeInvalid indicates a malformed mode string.
	ModeInvalid AccessBits = 0x100000
)

const modeLetters = "JRWPASDO"

// ParseAccessBits decodes a mode string. Malformed input yields ModeInvalid,
// an empty string yields ModeUnset; neither is an error the caller can ignore
// silently, but neither aborts the caller either.
func ParseAccessBits(s string) AccessBits {
	if s == "" {
		return ModeUnset
	}

	var bits AccessBits
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(modeLetters, s[i]&^0x20)
		if idx < 0 {
			if s[i] == 'N' || s[i] == 'n' {
				// N wipes all bits: explicitly no access.
				return ModeNone
			}
			return ModeInvalid
		}
		bits |= 1 << uint(idx)
	}
	return bits
}

// MarshalText renders the bits as a canonical letter string, alphabet order
// fixed by bit position for reproducibility.
func (m AccessBits) MarshalText() ([]byte, error) {
	if m == ModeNone {
		return []byte{'N'}, nil
	}
	if m == ModeUnset {
		return []byte{}, nil
	}
	if m == ModeInvalid {
		return nil, errors.New("AccessBits: invalid")
	}

	var res []byte
	for i := 0; i < len(modeLetters); i++ {
		if m&(1<<uint(i)) != 0 {
			res = append(res, modeLetters[i])
		}
	}
	return res, nil
}

// UnmarshalText parses a mode string. The value is left unchanged if the
// string is empty or malformed.
func (m *AccessBits) UnmarshalText(b []byte) error {
	m0 := ParseAccessBits(string(b))
	if m0 == ModeInvalid {
		return errors.New("AccessBits: invalid character in '" + string(b) + "'")
	}
	if m0 != ModeUnset {
		*m = m0
	}
	return nil
}

func (m AccessBits) String() string {
	res, err := m.MarshalText()
	if err != nil {
		return ""
	}
	return string(res)
}

// Update applies an incremental spec of '+' and '-' clauses, left to right:
// "+RW-S" sets Read and Write, clears Share. Unknown letters within a clause
// are ignored. Returns ModeInvalid only if the string is not a delta at all.
func (m AccessBits) Update(delta string) AccessBits {
	if delta == "" {
		return m
	}

	upd := m
	if upd == ModeUnset || upd == ModeInvalid {
		upd = ModeNone
	}
	var action byte
	var chunk AccessBits
	flush := func() {
		switch action {
		case '+':
			upd |= chunk &^ ModeUnset
		case '-':
			upd &^= chunk &^ ModeUnset
		}
		chunk = 0
	}
	for i := 0; i < len(delta); i++ {
		switch c := delta[i]; c {
		case '+', '-':
			flush()
			action = c
		default:
			if action == 0 {
				// Does not look like a delta string.
				return ModeInvalid
			}
			if idx := strings.IndexByte(modeLetters, c&^0x20); idx >= 0 {
				chunk |= 1 << uint(idx)
			}
			// Unknown letters are dropped without failing the whole update.
		}
	}
	flush()
	return upd
}

// Delta returns the change from m to n as a "+added-removed" string.
func (m AccessBits) Delta(n AccessBits) string {
	var added, removed string
	if x := n &^ m; x > 0 {
		added = "+" + x.String()
	}
	if x := m &^ n; x > 0 {
		removed = "-" + x.String()
	}
	return added + removed
}

// DiffAccessBits is the symmetric difference: bits present in exactly one
// operand. Unset sides are treated as no bits.
func DiffAccessBits(a, b AccessBits) AccessBits {
	if a == ModeUnset || a == ModeInvalid {
		a = ModeNone
	}
	if b == ModeUnset || b == ModeInvalid {
		b = ModeNone
	}
	return a ^ b
}

// IsDefined is false for the unset and invalid sentinels.
func (m AccessBits) IsDefined() bool {
	return m != ModeUnset && m != ModeInvalid
}

func (m AccessBits) IsInvalid() bool {
	return m == ModeInvalid
}

func (m AccessBits) IsZero() bool {
	return m == ModeNone
}

// Side selects which of the three masks a permission query inspects.
type Side int

const (
	SideMode Side = iota
	SideGiven
	SideWant
)

// AccessMode is the three-way access descriptor of a subscription: the
// server-computed effective mode plus the given/want pair it is derived from.
// Either side may be unknown without corrupting the other.
type AccessMode struct {
	Mode  AccessBits
	Given AccessBits
	Want  AccessBits
}

// NewAccessMode parses the three sides from their wire strings.
func NewAccessMode(mode, given, want string) *AccessMode {
	return &AccessMode{
		Mode:  ParseAccessBits(mode),
		Given: ParseAccessBits(given),
		Want:  ParseAccessBits(want),
	}
}

// Copy returns an independent clone. Mutators change the receiver in place,
// callers needing the original must clone first.
func (a *AccessMode) Copy() *AccessMode {
	if a == nil {
		return nil
	}
	dst := *a
	return &dst
}

func (a *AccessMode) side(s Side) AccessBits {
	switch s {
	case SideGiven:
		return a.Given
	case SideWant:
		return a.Want
	default:
		return a.Mode
	}
}

// SetMode assigns the effective mode from a string. Returns the receiver for
// chaining.
func (a *AccessMode) SetMode(m string) *AccessMode {
	a.Mode = ParseAccessBits(m)
	return a
}

// UpdateMode applies a delta string to the effective mode.
func (a *AccessMode) UpdateMode(u string) *AccessMode {
	a.Mode = a.Mode.Update(u)
	return a
}

func (a *AccessMode) SetGiven(g string) *AccessMode {
	a.Given = ParseAccessBits(g)
	return a
}

func (a *AccessMode) UpdateGiven(u string) *AccessMode {
	a.Given = a.Given.Update(u)
	return a
}

func (a *AccessMode) SetWant(w string) *AccessMode {
	a.Want = ParseAccessBits(w)
	return a
}

func (a *AccessMode) UpdateWant(u string) *AccessMode {
	a.Want = a.Want.Update(u)
	return a
}

// UpdateAll merges every defined side of upd into the receiver. Each side is
// an independent delta; undefined sides of upd are skipped.
func (a *AccessMode) UpdateAll(upd *DefaultAccessUpdate) *AccessMode {
	if upd == nil {
		return a
	}
	if upd.Mode != "" {
		a.Mode = a.Mode.Update(upd.Mode)
	}
	if upd.Given != "" {
		a.Given = a.Given.Update(upd.Given)
	}
	if upd.Want != "" {
		a.Want = a.Want.Update(upd.Want)
	}
	return a
}

// AssignAll overwrites every side from the wire representation acs. Empty
// strings leave the corresponding side untouched.
func (a *AccessMode) AssignAll(mode, given, want string) *AccessMode {
	if m := ParseAccessBits(mode); m != ModeUnset {
		a.Mode = m
	}
	if g := ParseAccessBits(given); g != ModeUnset {
		a.Given = g
	}
	if w := ParseAccessBits(want); w != ModeUnset {
		a.Want = w
	}
	return a
}

// DefaultAccessUpdate carries per-side delta strings, e.g. from a {pres}
// "acs" notification.
type DefaultAccessUpdate struct {
	Mode  string `json:"mode,omitempty"`
	Given string `json:"given,omitempty"`
	Want  string `json:"want,omitempty"`
}

// Missing returns the permissions present in Want but not in Given: what the
// user asked for and has not received.
func (a *AccessMode) Missing() AccessBits {
	want, given := a.Want, a.Given
	if !want.IsDefined() {
		want = ModeNone
	}
	if !given.IsDefined() {
		given = ModeNone
	}
	return want &^ given
}

// Excessive returns the permissions present in Given but not in Want: granted
// but not requested.
func (a *AccessMode) Excessive() AccessBits {
	want, given := a.Want, a.Given
	if !want.IsDefined() {
		want = ModeNone
	}
	if !given.IsDefined() {
		given = ModeNone
	}
	return given &^ want
}

func (a *AccessMode) IsOwner(s Side) bool {
	return a.side(s)&ModeOwner != 0
}

func (a *AccessMode) IsApprover(s Side) bool {
	return a.side(s)&ModeApprove != 0
}

// IsAdmin is true for approvers and owners.
func (a *AccessMode) IsAdmin(s Side) bool {
	return a.IsOwner(s) || a.IsApprover(s)
}

func (a *AccessMode) IsSharer(s Side) bool {
	return a.IsAdmin(s) || a.side(s)&ModeShare != 0
}

func (a *AccessMode) IsJoiner(s Side) bool {
	return a.side(s)&ModeJoin != 0
}

func (a *AccessMode) IsReader(s Side) bool {
	return a.side(s)&ModeRead != 0
}

func (a *AccessMode) IsWriter(s Side) bool {
	return a.side(s)&ModeWrite != 0
}

func (a *AccessMode) IsPresencer(s Side) bool {
	return a.side(s)&ModePres != 0
}

// IsMuted: the side exists but lacks the Presence bit.
func (a *AccessMode) IsMuted(s Side) bool {
	b := a.side(s)
	return b.IsDefined() && b&ModePres == 0
}

func (a *AccessMode) IsDeleter(s Side) bool {
	return a.side(s)&ModeDelete != 0
}

func (a *AccessMode) String() string {
	if a == nil {
		return ""
	}
	return "W:" + a.Want.String() + ";G:" + a.Given.String() + ";M:" + a.Mode.String()
}

// wireAccessMode is the JSON shape of an access mode on the wire.
type wireAccessMode struct {
	Mode  string `json:"mode,omitempty"`
	Given string `json:"given,omitempty"`
	Want  string `json:"want,omitempty"`
}

func (a AccessMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAccessMode{
		Mode:  a.Mode.String(),
		Given: a.Given.String(),
		Want:  a.Want.String(),
	})
}

func (a *AccessMode) UnmarshalJSON(b []byte) error {
	var w wireAccessMode
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	a.Mode = ParseAccessBits(w.Mode)
	a.Given = ParseAccessBits(w.Given)
	a.Want = ParseAccessBits(w.Want)
	return nil
}
