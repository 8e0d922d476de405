package confclient

// LocalTrack is the signaling-side state of one logical local media track.
// The media engine owns the real track, this mirror only carries what the
// description rewriting needs.
type LocalTrack struct {
	Id               string
	StreamId         string
	MediaType        MediaType
	Muted            bool
	Attached         bool
	InMuteTransition bool

	// Cached is the last-agreed ssrc/group assignment for this track. It is
	// only mutated inside a renegotiation cycle, never between them.
	Cached *StreamSsrcInfo
}

// requiresSynthesis reports whether the raw local description cannot be
// trusted to still carry this track's sources.
func (track *LocalTrack) requiresSynthesis() bool {
	return track.Muted || track.InMuteTransition || !track.Attached
}

func tracksOfType(tracks []*LocalTrack, mediaType MediaType) []*LocalTrack {
	var matched []*LocalTrack
	for _, track := range tracks {
		if track.MediaType == mediaType {
			matched = append(matched, track)
		}
	}
	return matched
}
