package confclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSsrcMapFidRenegotiation(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeVideo: {
			Ssrcs: []SSRC{1111014965, 111199560},
			Groups: []SsrcGroup{
				{Semantics: SsrcGroupSemanticsFid, Ssrcs: []SSRC{1111014965, 111199560}},
			},
		},
	}
	fresh := mustParse(t, sdpFixture(
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc-group:FID 2222014965 222299560",
		"a=ssrc:2222014965 cname:regenerated",
		"a=ssrc:222299560 cname:regenerated",
	))

	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Equal(t, SsrcMapping{
		2222014965: 1111014965,
		222299560:  111199560,
	}, mapping)
}

func TestBuildSsrcMapUngroupedPositional(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeAudio: {Ssrcs: []SSRC{100, 200}},
	}
	fresh := mustParse(t, sdpFixture(
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc:700 cname:c",
		"a=ssrc:800 cname:c",
	))

	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Equal(t, SsrcMapping{700: 100, 800: 200}, mapping)
}

func TestBuildSsrcMapUngroupedCountMismatchContributesNothing(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeAudio: {Ssrcs: []SSRC{100}},
	}
	fresh := mustParse(t, sdpFixture(
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc:700 cname:c",
		"a=ssrc:800 cname:c",
	))

	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Empty(t, mapping)
}

func TestBuildSsrcMapSimulcast(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeVideo: {
			Ssrcs: []SSRC{1, 2, 3, 11, 12, 13},
			Groups: []SsrcGroup{
				{Semantics: SsrcGroupSemanticsSim, Ssrcs: []SSRC{1, 2, 3}},
				{Semantics: SsrcGroupSemanticsFid, Ssrcs: []SSRC{1, 11}},
				{Semantics: SsrcGroupSemanticsFid, Ssrcs: []SSRC{2, 12}},
				{Semantics: SsrcGroupSemanticsFid, Ssrcs: []SSRC{3, 13}},
			},
		},
	}
	fresh := mustParse(t, sdpFixture(
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc-group:SIM 51 52 53",
		"a=ssrc-group:FID 51 61",
		"a=ssrc-group:FID 52 62",
		"a=ssrc-group:FID 53 63",
		"a=ssrc:51 cname:c",
		"a=ssrc:52 cname:c",
		"a=ssrc:53 cname:c",
		"a=ssrc:61 cname:c",
		"a=ssrc:62 cname:c",
		"a=ssrc:63 cname:c",
	))

	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Equal(t, SsrcMapping{
		51: 1, 52: 2, 53: 3,
		61: 11, 62: 12, 63: 13,
	}, mapping)
}

func TestBuildSsrcMapSimCardinalityMismatchContributesNothing(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeVideo: {
			Ssrcs: []SSRC{1, 2, 3},
			Groups: []SsrcGroup{
				{Semantics: SsrcGroupSemanticsSim, Ssrcs: []SSRC{1, 2, 3}},
			},
		},
	}
	fresh := mustParse(t, sdpFixture(
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc-group:SIM 51 52",
		"a=ssrc:51 cname:c",
		"a=ssrc:52 cname:c",
	))

	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Empty(t, mapping)
}

func TestBuildSsrcMapAmbiguousCachedSimGroupsContributesNothing(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeVideo: {
			Ssrcs: []SSRC{1, 2, 3, 4, 5, 6},
			Groups: []SsrcGroup{
				{Semantics: SsrcGroupSemanticsSim, Ssrcs: []SSRC{1, 2, 3}},
				{Semantics: SsrcGroupSemanticsSim, Ssrcs: []SSRC{4, 5, 6}},
			},
		},
	}
	fresh := mustParse(t, sdpFixture(
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc-group:SIM 51 52 53",
		"a=ssrc-group:SIM 54 55 56",
		"a=ssrc:51 cname:c",
		"a=ssrc:52 cname:c",
		"a=ssrc:53 cname:c",
		"a=ssrc:54 cname:c",
		"a=ssrc:55 cname:c",
		"a=ssrc:56 cname:c",
	))

	// Two cached SIM groups make any pairing ambiguous, nothing is mapped.
	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Empty(t, mapping)
}

func TestBuildSsrcMapLeavesOtherMediaTypesIntact(t *testing.T) {
	cached := map[MediaType]StreamSsrcInfo{
		MediaTypeAudio: {Ssrcs: []SSRC{100}},
		MediaTypeVideo: {Ssrcs: []SSRC{1, 2}},
	}
	fresh := mustParse(t, sdpFixture(
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc:700 cname:c",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:1",
		"a=ssrc:900 cname:c",
	))

	// The video count mismatch only suppresses video entries.
	mapping := BuildSsrcMap(testLog(), cached, fresh)
	assert.Equal(t, SsrcMapping{700: 100}, mapping)
}

func TestApplySsrcMappingRewritesAttributesAndGroups(t *testing.T) {
	model := mustParse(t, sdpFixture(
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc-group:FID 51 61",
		"a=ssrc:51 cname:regenerated",
		"a=ssrc:51 msid:stream track",
		"a=ssrc:61 cname:regenerated",
	))

	ApplySsrcMapping(model, SsrcMapping{51: 1, 61: 11})
	marshalled, err := model.Marshal()
	require.NoError(t, err)

	assert.Contains(t, marshalled, "a=ssrc-group:FID 1 11\r\n")
	assert.Contains(t, marshalled, "a=ssrc:1 cname:regenerated\r\n")
	assert.Contains(t, marshalled, "a=ssrc:1 msid:stream track\r\n")
	assert.Contains(t, marshalled, "a=ssrc:11 cname:regenerated\r\n")
	assert.NotContains(t, marshalled, "a=ssrc:51 ")
	assert.NotContains(t, marshalled, "a=ssrc:61 ")
}

func TestApplySsrcMappingEmptyMappingIsNoOp(t *testing.T) {
	text := sdpFixture(
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=ssrc:5 cname:c",
	)
	model := mustParse(t, text)
	ApplySsrcMapping(model, SsrcMapping{})
	marshalled, err := model.Marshal()
	require.NoError(t, err)
	assert.Equal(t, text, marshalled)
}
