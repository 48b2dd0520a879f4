package domain

import (
	"encoding/json"
	"slices"
	"strings"
)

// Metadata is an open key-value map attached to contacts and conversations.
type Metadata map[string]any

// Merge returns a new map holding m's keys overlaid with other's.
// Keys present in both take other's value. Neither input is modified.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Marshal encodes the map as JSON, using "{}" for nil.
func (m Metadata) Marshal() (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalMetadata decodes a JSON object. Empty input yields an empty map.
func UnmarshalMetadata(s string) (Metadata, error) {
	m := Metadata{}
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// TagSet is a sorted list of unique, non-empty tags.
type TagSet []string

// NewTagSet normalizes tags: trims, drops empties and duplicates, sorts.
func NewTagSet(tags ...string) TagSet {
	out := make(TagSet, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Union returns the tags present in either set.
func (s TagSet) Union(other TagSet) TagSet {
	return NewTagSet(append(slices.Clone(s), other...)...)
}

// Contains reports whether tag is in the set.
func (s TagSet) Contains(tag string) bool {
	_, ok := slices.BinarySearch(s, tag)
	return ok
}

// Marshal encodes the set as a JSON array.
func (s TagSet) Marshal() (string, error) {
	if s == nil {
		s = TagSet{}
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalTagSet decodes a JSON array of tags.
func UnmarshalTagSet(s string) (TagSet, error) {
	if strings.TrimSpace(s) == "" {
		return TagSet{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, err
	}
	return NewTagSet(tags...), nil
}
