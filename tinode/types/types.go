package types

import (
	"sort"
	"time"
)

// TopicCat is a topic category derived from the topic name.
type TopicCat int

const (
	// TopicCatUndefined: name matches no recognized pattern.
	TopicCatUndefined TopicCat = iota
	// TopicCatMe: account management topic 'me'.
	TopicCatMe
	// TopicCatFnd: search-for-contacts topic 'fnd'.
	TopicCatFnd
	// TopicCatSlf: saved-messages topic 'slf'.
	TopicCatSlf
	// TopicCatP2P: dialog between two users.
	TopicCatP2P
	// TopicCatGrp: group chat, including channels.
	TopicCatGrp
	// TopicCatSys: one-way communication with the system administrator.
	TopicCatSys
)

func (c TopicCat) String() string {
	switch c {
	case TopicCatMe:
		return "me"
	case TopicCatFnd:
		return "fnd"
	case TopicCatSlf:
		return "slf"
	case TopicCatP2P:
		return "p2p"
	case TopicCatGrp:
		return "grp"
	case TopicCatSys:
		return "sys"
	}
	return "und"
}

// GetTopicCat derives the category from the name structure. Total over all
// strings: unrecognized names map to TopicCatUndefined.
func GetTopicCat(name string) TopicCat {
	switch name {
	case "me":
		return TopicCatMe
	case "fnd":
		return TopicCatFnd
	case "sys":
		return TopicCatSys
	case "slf":
		return TopicCatSlf
	}
	if len(name) < 3 {
		return TopicCatUndefined
	}
	switch name[:3] {
	case "usr", "p2p":
		return TopicCatP2P
	case "grp", "chn", "new", "nch":
		return TopicCatGrp
	}
	return TopicCatUndefined
}

// IsChannelName: a channel or a not-yet-created channel.
func IsChannelName(name string) bool {
	return len(name) >= 3 && (name[:3] == "chn" || name[:3] == "nch")
}

// IsNewGroupName: a group topic which has not been created on the server yet.
func IsNewGroupName(name string) bool {
	return len(name) > 3 && (name[:3] == "new" || name[:3] == "nch")
}

// IsCommName: a topic for direct communication between users, i.e. P2P or
// group, as opposed to 'me'/'fnd'/'sys'.
func IsCommName(name string) bool {
	cat := GetTopicCat(name)
	return cat == TopicCatP2P || cat == TopicCatGrp
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// Range is a closed-open interval of message sequence ids, [Low, Hi).
// Hi == 0 means a single id: [Low, Low+1).
type Range struct {
	Low int `json:"low,omitempty"`
	Hi  int `json:"hi,omitempty"`
}

// Contains reports whether seq falls into the range.
func (r Range) Contains(seq int) bool {
	if r.Hi <= 0 {
		return seq == r.Low
	}
	return seq >= r.Low && seq < r.Hi
}

// ListToRanges converts a flat list of ids to a minimal set of closed-open
// ranges by detecting consecutive runs. The input is sorted and deduplicated
// first; the result is ordered by Low.
func ListToRanges(list []int) []Range {
	if len(list) == 0 {
		return nil
	}

	sorted := make([]int, len(list))
	copy(sorted, list)
	sort.Ints(sorted)

	var out []Range
	low, hi := sorted[0], sorted[0]+1
	for _, id := range sorted[1:] {
		if id < hi {
			// Duplicate.
			continue
		}
		if id == hi {
			hi++
			continue
		}
		out = append(out, Range{Low: low, Hi: hi})
		low, hi = id, id+1
	}
	return append(out, Range{Low: low, Hi: hi})
}

// NormalizeRanges sorts ranges and merges those which overlap or are
// adjacent. Ranges with Hi == 0 are expanded to single-id form first.
func NormalizeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	norm := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.Low <= 0 {
			continue
		}
		if r.Hi <= r.Low {
			r.Hi = r.Low + 1
		}
		norm = append(norm, r)
	}
	sort.Slice(norm, func(i, j int) bool {
		if norm[i].Low == norm[j].Low {
			return norm[i].Hi > norm[j].Hi
		}
		return norm[i].Low < norm[j].Low
	})

	var out []Range
	for _, r := range norm {
		if n := len(out); n > 0 && r.Low <= out[n-1].Hi {
			if r.Hi > out[n-1].Hi {
				out[n-1].Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
