package es

import "log/slog"

// Version is the position of an event within its aggregate stream. The first
// event of a stream has version 1; a fresh aggregate has version 0.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

// crossesInterval reports whether moving from -> to passes a multiple of every.
func crossesInterval(from, to Version, every int) bool {
	if every <= 0 || to <= from {
		return false
	}
	f := Version(every)
	return from/f < to/f
}
