package confclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// SSRC is a 32-bit RTP synchronization source identifier. Zero is never a
// valid allocation.
type SSRC uint32

type MediaType string

const (
	MediaTypeAudio       MediaType = "audio"
	MediaTypeVideo       MediaType = "video"
	MediaTypeApplication MediaType = "application"
)

const (
	SsrcGroupSemanticsSim = "SIM"
	SsrcGroupSemanticsFid = sdp.SemanticTokenFlowIdentification
)

const (
	SsrcAttributeCname = "cname"
	SsrcAttributeMsid  = "msid"
)

type SsrcAttribute struct {
	Ssrc  SSRC
	Key   string
	Value string
}

// SsrcGroup is an ordered ssrc grouping, primary first. FID groups carry
// exactly two members, SIM groups one per simulcast layer.
type SsrcGroup struct {
	Semantics string
	Ssrcs     []SSRC
}

func (group SsrcGroup) Primary() SSRC {
	if len(group.Ssrcs) == 0 {
		return 0
	}
	return group.Ssrcs[0]
}

func (group SsrcGroup) Contains(ssrc SSRC) bool {
	for _, member := range group.Ssrcs {
		if member == ssrc {
			return true
		}
	}
	return false
}

func formatUint32(value uint32) string {
	return strconv.FormatUint(uint64(value), 10)
}

func (group SsrcGroup) attributeValue() string {
	parts := make([]string, 0, len(group.Ssrcs)+1)
	parts = append(parts, group.Semantics)
	for _, ssrc := range group.Ssrcs {
		parts = append(parts, strconv.FormatUint(uint64(ssrc), 10))
	}
	return strings.Join(parts, " ")
}

func (group SsrcGroup) equal(other SsrcGroup) bool {
	if group.Semantics != other.Semantics || len(group.Ssrcs) != len(other.Ssrcs) {
		return false
	}
	for i, ssrc := range group.Ssrcs {
		if other.Ssrcs[i] != ssrc {
			return false
		}
	}
	return true
}

// StreamSsrcInfo is the per-track {ssrcs, groups} pair. The cached instance
// held by the client is the last-agreed ground truth that survives across
// renegotiations.
type StreamSsrcInfo struct {
	Ssrcs  []SSRC
	Groups []SsrcGroup
}

func (info StreamSsrcInfo) GroupedSsrcs() map[SSRC]Signal {
	grouped := make(map[SSRC]Signal)
	for _, group := range info.Groups {
		for _, ssrc := range group.Ssrcs {
			grouped[ssrc] = SignalInstance
		}
	}
	return grouped
}

func (info StreamSsrcInfo) UngroupedSsrcs() []SSRC {
	grouped := info.GroupedSsrcs()
	ungrouped := make([]SSRC, 0, len(info.Ssrcs))
	for _, ssrc := range info.Ssrcs {
		if _, ok := grouped[ssrc]; !ok {
			ungrouped = append(ungrouped, ssrc)
		}
	}
	return ungrouped
}

func (info StreamSsrcInfo) GroupsBySemantics(semantics string) []SsrcGroup {
	var groups []SsrcGroup
	for _, group := range info.Groups {
		if group.Semantics == semantics {
			groups = append(groups, group)
		}
	}
	return groups
}

// MediaSection is a view over a single m-line of a parsed description.
// Mutations go straight to the underlying description, attribute order is
// preserved and new attributes are appended.
type MediaSection struct {
	desc *sdp.MediaDescription
}

func (section *MediaSection) Type() MediaType {
	return MediaType(section.desc.MediaName.Media)
}

func (section *MediaSection) Mid() string {
	mid, _ := section.desc.Attribute(sdp.AttrKeyMID)
	return mid
}

var directionAttributes = []string{
	sdp.AttrKeySendRecv,
	sdp.AttrKeySendOnly,
	sdp.AttrKeyRecvOnly,
	sdp.AttrKeyInactive,
}

func isDirectionAttribute(key string) bool {
	for _, direction := range directionAttributes {
		if key == direction {
			return true
		}
	}
	return false
}

func (section *MediaSection) Direction() string {
	for _, attr := range section.desc.Attributes {
		if isDirectionAttribute(attr.Key) {
			return attr.Key
		}
	}
	return ""
}

// SetDirection replaces the existing direction attribute in place, so a
// repeated call with the same value leaves the description byte-identical.
func (section *MediaSection) SetDirection(direction string) {
	for i, attr := range section.desc.Attributes {
		if isDirectionAttribute(attr.Key) {
			section.desc.Attributes[i] = sdp.Attribute{Key: direction}
			return
		}
	}
	section.desc.Attributes = append(section.desc.Attributes, sdp.Attribute{Key: direction})
}

func parseSsrcAttribute(value string) (SsrcAttribute, bool) {
	fields := strings.SplitN(value, " ", 2)
	ssrc, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return SsrcAttribute{}, false
	}
	attr := SsrcAttribute{Ssrc: SSRC(ssrc)}
	if len(fields) == 2 {
		keyValue := strings.SplitN(fields[1], ":", 2)
		attr.Key = keyValue[0]
		if len(keyValue) == 2 {
			attr.Value = keyValue[1]
		}
	}
	return attr, true
}

func parseSsrcGroupAttribute(value string) (SsrcGroup, bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return SsrcGroup{}, false
	}
	group := SsrcGroup{Semantics: fields[0], Ssrcs: make([]SSRC, 0, len(fields)-1)}
	for _, field := range fields[1:] {
		ssrc, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return SsrcGroup{}, false
		}
		group.Ssrcs = append(group.Ssrcs, SSRC(ssrc))
	}
	return group, true
}

// Ssrcs returns the section ssrcs in order of first appearance.
func (section *MediaSection) Ssrcs() []SSRC {
	var ssrcs []SSRC
	seen := make(map[SSRC]Signal)
	for _, attr := range section.desc.Attributes {
		if attr.Key != sdp.AttrKeySSRC {
			continue
		}
		ssrcAttr, ok := parseSsrcAttribute(attr.Value)
		if !ok {
			continue
		}
		if _, known := seen[ssrcAttr.Ssrc]; known {
			continue
		}
		seen[ssrcAttr.Ssrc] = SignalInstance
		ssrcs = append(ssrcs, ssrcAttr.Ssrc)
	}
	return ssrcs
}

func (section *MediaSection) SsrcAttributes() []SsrcAttribute {
	var attrs []SsrcAttribute
	for _, attr := range section.desc.Attributes {
		if attr.Key != sdp.AttrKeySSRC {
			continue
		}
		if ssrcAttr, ok := parseSsrcAttribute(attr.Value); ok {
			attrs = append(attrs, ssrcAttr)
		}
	}
	return attrs
}

func (section *MediaSection) HasSsrcAttribute(ssrc SSRC, key string) bool {
	for _, attr := range section.SsrcAttributes() {
		if attr.Ssrc == ssrc && attr.Key == key {
			return true
		}
	}
	return false
}

func (section *MediaSection) AddSsrcAttribute(attr SsrcAttribute) {
	value := fmt.Sprintf("%d %s", attr.Ssrc, attr.Key)
	if attr.Value != "" {
		value = fmt.Sprintf("%s:%s", value, attr.Value)
	}
	section.desc.Attributes = append(section.desc.Attributes, sdp.Attribute{
		Key:   sdp.AttrKeySSRC,
		Value: value,
	})
}

func (section *MediaSection) SsrcGroups() []SsrcGroup {
	var groups []SsrcGroup
	for _, attr := range section.desc.Attributes {
		if attr.Key != sdp.AttrKeySSRCGroup {
			continue
		}
		if group, ok := parseSsrcGroupAttribute(attr.Value); ok {
			groups = append(groups, group)
		}
	}
	return groups
}

func (section *MediaSection) HasSsrcGroup(group SsrcGroup) bool {
	for _, existing := range section.SsrcGroups() {
		if existing.equal(group) {
			return true
		}
	}
	return false
}

func (section *MediaSection) AddSsrcGroup(group SsrcGroup) {
	section.desc.Attributes = append(section.desc.Attributes, sdp.Attribute{
		Key:   sdp.AttrKeySSRCGroup,
		Value: group.attributeValue(),
	})
}

// StreamSsrcInfo snapshots the section's current ssrcs and groups.
func (section *MediaSection) StreamSsrcInfo() StreamSsrcInfo {
	return StreamSsrcInfo{
		Ssrcs:  section.Ssrcs(),
		Groups: section.SsrcGroups(),
	}
}

// SessionDescriptionModel is the parsed representation of a session
// description. Fields the engine does not understand round-trip untouched.
type SessionDescriptionModel struct {
	sd       *sdp.SessionDescription
	sections []*MediaSection
}

func ParseSessionDescription(text string) (*SessionDescriptionModel, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return nil, fmt.Errorf("%w, %v", ParseError, err)
	}
	model := &SessionDescriptionModel{sd: sd}
	for _, desc := range sd.MediaDescriptions {
		model.sections = append(model.sections, &MediaSection{desc: desc})
	}
	return model, nil
}

func (model *SessionDescriptionModel) MediaSections() []*MediaSection {
	return model.sections
}

// Section returns the first section of the given media type carrying ssrcs,
// falling back to the first section of the type. In the descriptions this
// client generates that is the sending m-line, the rest are receive-only
// participant sections.
func (model *SessionDescriptionModel) Section(mediaType MediaType) *MediaSection {
	var first *MediaSection
	for _, section := range model.sections {
		if section.Type() != mediaType {
			continue
		}
		if first == nil {
			first = section
		}
		if len(section.Ssrcs()) > 0 {
			return section
		}
	}
	return first
}

func (model *SessionDescriptionModel) BumpSessionVersion() {
	model.sd.Origin.SessionVersion++
}

func (model *SessionDescriptionModel) Marshal() (string, error) {
	text, err := model.sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("%w, %v", ParseError, err)
	}
	return string(text), nil
}
