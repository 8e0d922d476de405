package confclient

import (
	"fmt"

	"github.com/pion/randutil"
	"github.com/sirupsen/logrus"
)

const maxSsrcAllocationAttempts = 100

// SsrcAllocator hands out fresh collision-free ssrcs for the whole session.
// Every ssrc observed in a local or remote description must be reserved here
// so later draws cannot collide with it.
type SsrcAllocator struct {
	log     *logrus.Entry
	rand    randutil.MathRandomGenerator
	inUse   map[SSRC]Signal
	metrics *clientMetrics
}

func NewSsrcAllocator(log *logrus.Entry) *SsrcAllocator {
	return &SsrcAllocator{
		log:   log,
		rand:  randutil.NewMathRandomGenerator(),
		inUse: make(map[SSRC]Signal),
	}
}

func (allocator *SsrcAllocator) Reserve(ssrc SSRC) {
	if ssrc == 0 {
		return
	}
	allocator.inUse[ssrc] = SignalInstance
}

func (allocator *SsrcAllocator) ReserveAll(ssrcs []SSRC) {
	for _, ssrc := range ssrcs {
		allocator.Reserve(ssrc)
	}
}

func (allocator *SsrcAllocator) Forget(ssrc SSRC) {
	delete(allocator.inUse, ssrc)
}

func (allocator *SsrcAllocator) InUse(ssrc SSRC) bool {
	_, used := allocator.inUse[ssrc]
	return used
}

func (allocator *SsrcAllocator) allocate() (SSRC, error) {
	for attempt := 0; attempt < maxSsrcAllocationAttempts; attempt++ {
		ssrc := SSRC(allocator.rand.Uint32())
		if ssrc == 0 {
			continue
		}
		if _, used := allocator.inUse[ssrc]; used {
			allocator.log.Warnf("ssrc %d already in use, drawing again", ssrc)
			allocator.metrics.IncAllocationRetries()
			continue
		}
		allocator.inUse[ssrc] = SignalInstance
		allocator.metrics.IncSsrcAllocations()
		return ssrc, nil
	}
	return 0, fmt.Errorf("%w, gave up after %d attempts", AllocationCollisionError, maxSsrcAllocationAttempts)
}

// GenerateStreamSsrcInfo allocates the ssrc/group set for one local stream:
// simulcastLayers primaries (with a SIM group when layered) and, with RTX
// enabled, one FID pair per primary.
func (allocator *SsrcAllocator) GenerateStreamSsrcInfo(simulcastLayers int, enableRtx bool) (StreamSsrcInfo, error) {
	if simulcastLayers < 1 {
		simulcastLayers = 1
	}

	info := StreamSsrcInfo{}
	primaries := make([]SSRC, 0, simulcastLayers)
	for i := 0; i < simulcastLayers; i++ {
		ssrc, err := allocator.allocate()
		if err != nil {
			return StreamSsrcInfo{}, err
		}
		primaries = append(primaries, ssrc)
	}
	info.Ssrcs = append(info.Ssrcs, primaries...)
	if simulcastLayers > 1 {
		info.Groups = append(info.Groups, SsrcGroup{
			Semantics: SsrcGroupSemanticsSim,
			Ssrcs:     append([]SSRC(nil), primaries...),
		})
	}

	if enableRtx {
		for _, primary := range primaries {
			rtx, err := allocator.allocate()
			if err != nil {
				return StreamSsrcInfo{}, err
			}
			info.Ssrcs = append(info.Ssrcs, rtx)
			info.Groups = append(info.Groups, SsrcGroup{
				Semantics: SsrcGroupSemanticsFid,
				Ssrcs:     []SSRC{primary, rtx},
			})
		}
	}

	return info, nil
}
