package confclient

import (
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// SsrcMapping maps ssrcs of a freshly generated description to the stable
// values from the last-agreed description.
type SsrcMapping map[SSRC]SSRC

// BuildSsrcMap correlates the ssrcs of newDesc with the cached per-media-type
// ground truth. The result only contains entries the algorithm could
// confidently correlate, a media type that cannot be reconciled contributes
// nothing. Never fails: an incomplete mapping means "treat as fresh
// assignment", not abort.
func BuildSsrcMap(log *logrus.Entry, cached map[MediaType]StreamSsrcInfo, newDesc *SessionDescriptionModel) SsrcMapping {
	mapping := make(SsrcMapping)
	for mediaType, cachedInfo := range cached {
		section := newDesc.Section(mediaType)
		if section == nil {
			continue
		}
		mapMediaType(log.WithField("mediaType", string(mediaType)), cachedInfo, section.StreamSsrcInfo(), mapping)
	}
	return mapping
}

// mapMediaType stages mappings for one media type and merges them into
// mapping only if the media type reconciles as a whole.
func mapMediaType(log *logrus.Entry, cached, fresh StreamSsrcInfo, mapping SsrcMapping) {
	staged := make(SsrcMapping)

	cachedUngrouped := cached.UngroupedSsrcs()
	freshUngrouped := fresh.UngroupedSsrcs()
	if len(cachedUngrouped) != len(freshUngrouped) {
		log.Debugf("reconciliation gap: %d cached vs %d new ungrouped ssrcs", len(cachedUngrouped), len(freshUngrouped))
		return
	}
	// Positional matching is a best-effort heuristic, there is nothing tying
	// the i-th new ungrouped ssrc to the i-th cached one beyond emission order.
	for i, freshSsrc := range freshUngrouped {
		staged[freshSsrc] = cachedUngrouped[i]
	}

	cachedSims := cached.GroupsBySemantics(SsrcGroupSemanticsSim)
	freshSims := fresh.GroupsBySemantics(SsrcGroupSemanticsSim)
	if len(cachedSims) > 1 {
		log.Warnf("%d cached SIM groups, mapping is ambiguous", len(cachedSims))
		return
	}
	if len(cachedSims) != len(freshSims) {
		log.Debugf("reconciliation gap: %d cached vs %d new SIM groups", len(cachedSims), len(freshSims))
		return
	}
	if len(cachedSims) == 1 {
		cachedSim := cachedSims[0]
		freshSim := freshSims[0]
		if len(cachedSim.Ssrcs) != len(freshSim.Ssrcs) {
			log.Debugf("reconciliation gap: SIM group cardinality %d vs %d", len(cachedSim.Ssrcs), len(freshSim.Ssrcs))
			return
		}
		for i, freshSsrc := range freshSim.Ssrcs {
			staged[freshSsrc] = cachedSim.Ssrcs[i]
		}
	}

	cachedFids := cached.GroupsBySemantics(SsrcGroupSemanticsFid)
	freshFids := fresh.GroupsBySemantics(SsrcGroupSemanticsFid)
	positionalFids := len(cachedFids) == len(freshFids)
	for i, freshFid := range freshFids {
		if len(freshFid.Ssrcs) != 2 {
			log.Warnf("new FID group with %d members, skipping", len(freshFid.Ssrcs))
			continue
		}
		var cachedFid *SsrcGroup
		if mappedPrimary, ok := staged[freshFid.Primary()]; ok {
			cachedFid = findFidByPrimary(cachedFids, mappedPrimary)
		} else if positionalFids {
			// No SIM-established primary mapping (single layer + RTX). With
			// equal FID counts the groups pair positionally, mapping the
			// primary as well.
			cachedFid = &cachedFids[i]
		}
		if cachedFid == nil || len(cachedFid.Ssrcs) != 2 {
			log.Debugf("reconciliation gap: no cached FID counterpart for primary %d", freshFid.Primary())
			continue
		}
		staged[freshFid.Ssrcs[0]] = cachedFid.Ssrcs[0]
		staged[freshFid.Ssrcs[1]] = cachedFid.Ssrcs[1]
	}

	for freshSsrc, cachedSsrc := range staged {
		mapping[freshSsrc] = cachedSsrc
	}
}

func findFidByPrimary(groups []SsrcGroup, primary SSRC) *SsrcGroup {
	for i := range groups {
		if groups[i].Primary() == primary {
			return &groups[i]
		}
	}
	return nil
}

// ApplySsrcMapping rewrites every mapped ssrc of the description back to its
// stable cached value, in both source attributes and group members. This is
// what keeps the wire-visible ssrcs constant across renegotiations even when
// the media engine regenerated them.
func ApplySsrcMapping(model *SessionDescriptionModel, mapping SsrcMapping) {
	if len(mapping) == 0 {
		return
	}
	for _, section := range model.MediaSections() {
		section.ReplaceSsrcs(mapping)
	}
}

// ReplaceSsrcs rewrites mapped ssrcs in the section's source attributes and
// group references, leaving everything else byte-identical.
func (section *MediaSection) ReplaceSsrcs(mapping SsrcMapping) {
	for i, attr := range section.desc.Attributes {
		switch attr.Key {
		case sdp.AttrKeySSRC:
			ssrcAttr, ok := parseSsrcAttribute(attr.Value)
			if !ok {
				continue
			}
			stable, mapped := mapping[ssrcAttr.Ssrc]
			if !mapped {
				continue
			}
			ssrcAttr.Ssrc = stable
			section.desc.Attributes[i] = sdp.Attribute{
				Key:   sdp.AttrKeySSRC,
				Value: formatSsrcAttributeValue(ssrcAttr),
			}
		case sdp.AttrKeySSRCGroup:
			group, ok := parseSsrcGroupAttribute(attr.Value)
			if !ok {
				continue
			}
			changed := false
			for j, member := range group.Ssrcs {
				if stable, mapped := mapping[member]; mapped {
					group.Ssrcs[j] = stable
					changed = true
				}
			}
			if changed {
				section.desc.Attributes[i] = sdp.Attribute{
					Key:   sdp.AttrKeySSRCGroup,
					Value: group.attributeValue(),
				}
			}
		}
	}
}

func formatSsrcAttributeValue(attr SsrcAttribute) string {
	value := formatUint32(uint32(attr.Ssrc))
	if attr.Key != "" {
		value += " " + attr.Key
		if attr.Value != "" {
			value += ":" + attr.Value
		}
	}
	return value
}
