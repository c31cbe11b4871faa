// Package types provides shared type definitions used across the vizd daemon.
package types

// PitchClasses are the chroma names, indexed from C.
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// DefaultKey is the key reported before any confident chroma estimate
const DefaultKey = "C"

// Mood labels produced by the live classifier
const (
	MoodUnknown   = "Unknown"
	MoodCalm      = "Calm"
	MoodDeep      = "Deep"
	MoodBright    = "Bright"
	MoodEnergetic = "Energetic"
	MoodWarm      = "Warm"
	MoodBalanced  = "Balanced"
)

// Genre labels produced by the batch classifier
const (
	GenreRock       = "rock"
	GenrePop        = "pop"
	GenreJazz       = "jazz"
	GenreClassical  = "classical"
	GenreHipHop     = "hiphop"
	GenreElectronic = "electronic"
)

// Genres lists the batch labels in scoring order
var Genres = []string{GenreRock, GenrePop, GenreJazz, GenreClassical, GenreHipHop, GenreElectronic}

// ClassifierKind selects which classification strategy a session uses
type ClassifierKind int

const (
	ClassifierLive ClassifierKind = iota
	ClassifierBatch
)

// String returns the string representation of the classifier kind
func (k ClassifierKind) String() string {
	switch k {
	case ClassifierBatch:
		return "batch"
	default:
		return "live"
	}
}

// ParseClassifierKind parses a string into a ClassifierKind
func ParseClassifierKind(s string) ClassifierKind {
	switch s {
	case "batch", "genre":
		return ClassifierBatch
	default:
		return ClassifierLive
	}
}

// SourceKind selects where the daemon's frames come from
type SourceKind string

const (
	SourcePlayback SourceKind = "playback"
	SourceCapture  SourceKind = "capture"
	SourceDemo     SourceKind = "demo"
)

// ParseSourceKind parses a string into a SourceKind, defaulting to playback
func ParseSourceKind(s string) SourceKind {
	switch SourceKind(s) {
	case SourceCapture, SourceDemo:
		return SourceKind(s)
	default:
		return SourcePlayback
	}
}
