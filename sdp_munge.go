package confclient

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// LocalDescriptionSynthesizer rewrites an outgoing local description so it
// reflects the desired on-the-wire state: a muted or detached track keeps
// advertising its agreed ssrcs, and a section the engine stopped filling
// never drops below one stable receive-only placeholder ssrc. Without this
// the signaling peer would observe spurious source removals on every
// mute/unmute cycle.
type LocalDescriptionSynthesizer struct {
	log          *logrus.Entry
	alloc        *SsrcAllocator
	placeholders map[ /*Mid*/ string]SSRC
	warnedTracks StringSet
	metrics      *clientMetrics
}

func NewLocalDescriptionSynthesizer(log *logrus.Entry, alloc *SsrcAllocator) *LocalDescriptionSynthesizer {
	return &LocalDescriptionSynthesizer{
		log:          log,
		alloc:        alloc,
		placeholders: make(map[string]SSRC),
		warnedTracks: NewStringSet(),
	}
}

// Munge applies the synthesis pass to every rtp media section. Safe to apply
// repeatedly: with unchanged track state the second pass is a no-op.
func (synthesizer *LocalDescriptionSynthesizer) Munge(model *SessionDescriptionModel, tracks []*LocalTrack) {
	seenType := make(map[MediaType]Signal)
	for _, section := range model.MediaSections() {
		mediaType := section.Type()
		if mediaType == MediaTypeApplication {
			continue
		}
		if _, seen := seenType[mediaType]; !seen {
			// The first section per media type is the sending m-line, the
			// rest are receive-only participant sections.
			seenType[mediaType] = SignalInstance
			synthesizer.mungeTrackSection(section, tracksOfType(tracks, mediaType))
		}
		synthesizer.ensurePlaceholder(section)
	}
}

func (synthesizer *LocalDescriptionSynthesizer) mungeTrackSection(section *MediaSection, tracks []*LocalTrack) {
	synthesized := false
	for _, track := range tracks {
		if !track.requiresSynthesis() {
			synthesizer.expandLiveTrack(section, track)
			continue
		}
		if track.Cached == nil || len(track.Cached.Ssrcs) == 0 {
			// State-tracking gap. Fabricating an unfounded ssrc here would
			// hand the remote peer an identifier nothing backs, leaving the
			// section untouched lets it reject the description cleanly.
			if !synthesizer.warnedTracks.Contains(track.Id) {
				synthesizer.warnedTracks.Add(track.Id)
				synthesizer.log.Warnf("%v, trackId=%s mid=%s", SynthesisInconsistencyError, track.Id, section.Mid())
			}
			synthesizer.metrics.IncSynthesisInconsistencies()
			continue
		}
		synthesizer.injectTrack(section, track)
		synthesized = true
	}
	if synthesized {
		// Never drop to recvonly/inactive: removing the m-line direction
		// would cost an extra offer/answer round-trip with the remote party.
		section.SetDirection(sdp.AttrKeySendRecv)
	}
}

func (synthesizer *LocalDescriptionSynthesizer) injectTrack(section *MediaSection, track *LocalTrack) {
	for _, ssrc := range track.Cached.Ssrcs {
		if !section.HasSsrcAttribute(ssrc, SsrcAttributeCname) {
			section.AddSsrcAttribute(SsrcAttribute{
				Ssrc:  ssrc,
				Key:   SsrcAttributeCname,
				Value: fmt.Sprintf("injected-%d", ssrc),
			})
		}
		if track.StreamId != "" && !section.HasSsrcAttribute(ssrc, SsrcAttributeMsid) {
			section.AddSsrcAttribute(SsrcAttribute{
				Ssrc:  ssrc,
				Key:   SsrcAttributeMsid,
				Value: fmt.Sprintf("%s %s", track.StreamId, track.Id),
			})
		}
	}
	for _, group := range track.Cached.Groups {
		if !section.HasSsrcGroup(group) {
			section.AddSsrcGroup(group)
		}
	}
}

// expandLiveTrack widens the sending section of a live track to the full
// agreed simulcast/RTX layout. The media engine only ever emits the base
// source, the remaining layers and retransmission ssrcs exist purely on the
// signaling plane: engine ssrcs are remapped onto the allocated primaries,
// the engine's cname/msid is replicated to every added ssrc, and the SIM/FID
// groups are appended.
func (synthesizer *LocalDescriptionSynthesizer) expandLiveTrack(section *MediaSection, track *LocalTrack) {
	cached := track.Cached
	if cached == nil || len(cached.Groups) == 0 {
		return
	}
	primaries := cachedPrimaries(cached)
	if len(primaries) == 0 {
		return
	}

	remap := make(SsrcMapping)
	for i, engineSsrc := range section.StreamSsrcInfo().UngroupedSsrcs() {
		if i >= len(primaries) {
			break
		}
		if engineSsrc != primaries[i] {
			remap[engineSsrc] = primaries[i]
		}
	}
	if len(remap) > 0 {
		section.ReplaceSsrcs(remap)
	}

	cname, msid := "", ""
	for _, attr := range section.SsrcAttributes() {
		if attr.Ssrc != primaries[0] {
			continue
		}
		switch attr.Key {
		case SsrcAttributeCname:
			cname = attr.Value
		case SsrcAttributeMsid:
			msid = attr.Value
		}
	}
	if msid == "" && track.StreamId != "" {
		msid = fmt.Sprintf("%s %s", track.StreamId, track.Id)
	}

	for _, ssrc := range cached.Ssrcs {
		if !section.HasSsrcAttribute(ssrc, SsrcAttributeCname) {
			value := cname
			if value == "" {
				value = fmt.Sprintf("injected-%d", ssrc)
			}
			section.AddSsrcAttribute(SsrcAttribute{Ssrc: ssrc, Key: SsrcAttributeCname, Value: value})
		}
		if msid != "" && !section.HasSsrcAttribute(ssrc, SsrcAttributeMsid) {
			section.AddSsrcAttribute(SsrcAttribute{Ssrc: ssrc, Key: SsrcAttributeMsid, Value: msid})
		}
	}
	for _, group := range cached.Groups {
		if !section.HasSsrcGroup(group) {
			section.AddSsrcGroup(group)
		}
	}
}

// cachedPrimaries returns the base-layer ssrcs in layer order: the SIM group
// members when the stream is layered, otherwise the FID primaries.
func cachedPrimaries(info *StreamSsrcInfo) []SSRC {
	if sims := info.GroupsBySemantics(SsrcGroupSemanticsSim); len(sims) == 1 {
		return sims[0].Ssrcs
	}
	fids := info.GroupsBySemantics(SsrcGroupSemanticsFid)
	primaries := make([]SSRC, 0, len(fids))
	for _, fid := range fids {
		primaries = append(primaries, fid.Primary())
	}
	return primaries
}

// ensurePlaceholder keeps a section that ended up with zero ssrcs populated
// with a single receive-only ssrc. The value is allocated once per mid and
// reused on every later renegotiation, a regenerated value would itself look
// like a source change to the remote side.
func (synthesizer *LocalDescriptionSynthesizer) ensurePlaceholder(section *MediaSection) {
	if len(section.Ssrcs()) > 0 {
		return
	}
	mid := section.Mid()
	placeholder, ok := synthesizer.placeholders[mid]
	if !ok {
		allocated, err := synthesizer.alloc.allocate()
		if err != nil {
			synthesizer.log.WithError(err).Error("cannot allocate receive-only placeholder ssrc")
			return
		}
		placeholder = allocated
		synthesizer.placeholders[mid] = placeholder
	}
	section.AddSsrcAttribute(SsrcAttribute{
		Ssrc:  placeholder,
		Key:   SsrcAttributeCname,
		Value: fmt.Sprintf("recvonly-%d", placeholder),
	})
}
