package confclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gitlab.com/connect.club/jitsi/connectclub-conference-client.git/internal/volatile"
)

type Config struct {
	// LocalJid is the local occupant jid inside the conference room.
	LocalJid string
	// SimulcastLayers is the number of video simulcast layers to allocate
	// ssrcs for, 0 means the default of 3.
	SimulcastLayers int
	// EnableRtx allocates a retransmission ssrc (FID pair) per primary.
	EnableRtx bool
	// EventBufferSize bounds the event dispatch queue, 0 means 1024.
	EventBufferSize int
	Resume          ResumeConfig
	// Registerer enables prometheus instrumentation when non-nil.
	Registerer prometheus.Registerer
	// Log overrides the default logger.
	Log *logrus.Entry
}

func (config Config) withDefaults() Config {
	if config.SimulcastLayers == 0 {
		config.SimulcastLayers = 3
	}
	return config
}

// Client is the conferencing signaling core: it owns the local track mirror,
// the ssrc allocator/cache pair, the description synthesizer and the session
// state machine. Media capture and the stanza transport stay outside, they
// talk to the client through plain calls and callbacks.
type Client struct {
	log    *logrus.Entry
	id     string
	config Config

	isActive *volatile.Value[bool]

	// globalLock serializes renegotiation cycles, the ssrc cache is never
	// observable half-updated.
	globalLock sync.Mutex

	alloc      *SsrcAllocator
	synth      *LocalDescriptionSynthesizer
	session    *Session
	dispatcher *EventDispatcher
	metrics    *clientMetrics

	tracks     map[ /*TrackId*/ string]*LocalTrack
	trackOrder []string

	onEvent                    func(Event)
	onNewMessageForDataChannel func(msg string)

	renegotiationTask   *Task
	renegotiationReason *volatile.Value[string]

	subscribedEndpoints *volatile.Value[map[ /*EndpointId*/ string]VideoConstraint]
}

func NewClient(
	config Config,
	onEvent func(Event),
	onNewMessageForDataChannel func(msg string),
) *Client {
	config = config.withDefaults()
	clientId := uuid.NewString()

	log := config.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("clientId", clientId).WithField("machineId", MachineID())

	client := &Client{
		log:                        log,
		id:                         clientId,
		config:                     config,
		isActive:                   volatile.NewValue(false),
		tracks:                     make(map[string]*LocalTrack),
		onEvent:                    onEvent,
		onNewMessageForDataChannel: onNewMessageForDataChannel,
		renegotiationReason:        volatile.NewValue(""),
		subscribedEndpoints:        volatile.NewValue(map[string]VideoConstraint{}),
	}
	client.metrics = newClientMetrics(config.Registerer)
	client.alloc = NewSsrcAllocator(log)
	client.alloc.metrics = client.metrics
	client.synth = NewLocalDescriptionSynthesizer(log, client.alloc)
	client.synth.metrics = client.metrics
	client.dispatcher = NewEventDispatcher(log, client.handleEvent, config.EventBufferSize)
	client.session = NewSession(log, client.dispatcher, config.LocalJid, config.Resume)
	client.session.metrics = client.metrics
	return client
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) IsActive() bool {
	return c.isActive.Load()
}

func (c *Client) Start() error {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	if c.isActive.Load() {
		return StartOnActiveClientError
	}

	c.dispatcher.Start()
	c.renegotiationTask = CreateTask("renegotiation", c.log, c.runRenegotiation, 100*time.Millisecond, true)
	c.isActive.Store(true)
	c.log.Info("client started")
	return nil
}

func (c *Client) Stop() {
	if !c.isActive.Load() {
		return
	}

	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	if !c.isActive.Load() {
		return
	}
	c.isActive.Store(false)

	c.session.CancelResume()
	if err := c.renegotiationTask.Stop(time.Second * 10); err != nil {
		c.log.WithError(err).Error("cannot stop renegotiation task")
	}
	if err := c.dispatcher.Stop(time.Second * 10); err != nil {
		c.log.WithError(err).Error("cannot stop event dispatcher")
	}
	c.log.Info("client stopped")
}

func (c *Client) handleEvent(event Event) {
	if c.onEvent != nil {
		c.onEvent(event)
	}
}

// --- track registry -------------------------------------------------------

func (c *Client) AddLocalTrack(trackId, streamId string, mediaType MediaType) error {
	if !c.isActive.Load() {
		return InactiveClientError
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	if _, exists := c.tracks[trackId]; exists {
		return DuplicateTrackError
	}

	simulcastLayers := 1
	enableRtx := false
	if mediaType == MediaTypeVideo {
		simulcastLayers = c.config.SimulcastLayers
		enableRtx = c.config.EnableRtx
	}
	info, err := c.alloc.GenerateStreamSsrcInfo(simulcastLayers, enableRtx)
	if err != nil {
		return err
	}

	c.tracks[trackId] = &LocalTrack{
		Id:        trackId,
		StreamId:  streamId,
		MediaType: mediaType,
		Attached:  true,
		Cached:    &info,
	}
	c.trackOrder = append(c.trackOrder, trackId)
	c.scheduleRenegotiation("track added")
	return nil
}

func (c *Client) RemoveLocalTrack(trackId string) error {
	if !c.isActive.Load() {
		return InactiveClientError
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	if _, exists := c.tracks[trackId]; !exists {
		return UnknownTrackError
	}
	// The retired ssrcs stay reserved, a retired ssrc is never reused.
	delete(c.tracks, trackId)
	for i, id := range c.trackOrder {
		if id == trackId {
			c.trackOrder = append(c.trackOrder[:i], c.trackOrder[i+1:]...)
			break
		}
	}
	c.scheduleRenegotiation("track removed")
	return nil
}

func (c *Client) SetTrackMuted(trackId string, muted bool) error {
	return c.updateTrack(trackId, "track mute changed", func(track *LocalTrack) {
		track.Muted = muted
		track.InMuteTransition = false
	})
}

func (c *Client) SetTrackMuteInTransition(trackId string, inTransition bool) error {
	return c.updateTrack(trackId, "track mute transition", func(track *LocalTrack) {
		track.InMuteTransition = inTransition
	})
}

func (c *Client) AttachTrack(trackId string) error {
	return c.updateTrack(trackId, "track attached", func(track *LocalTrack) {
		track.Attached = true
	})
}

func (c *Client) DetachTrack(trackId string) error {
	return c.updateTrack(trackId, "track detached", func(track *LocalTrack) {
		track.Attached = false
	})
}

func (c *Client) updateTrack(trackId, reason string, update func(track *LocalTrack)) error {
	if !c.isActive.Load() {
		return InactiveClientError
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	track, exists := c.tracks[trackId]
	if !exists {
		return UnknownTrackError
	}
	update(track)
	c.scheduleRenegotiation(reason)
	return nil
}

func (c *Client) trackSlice() []*LocalTrack {
	tracks := make([]*LocalTrack, 0, len(c.trackOrder))
	for _, trackId := range c.trackOrder {
		tracks = append(tracks, c.tracks[trackId])
	}
	return tracks
}

func (c *Client) primaryTrackForType(mediaType MediaType) *LocalTrack {
	for _, trackId := range c.trackOrder {
		if track := c.tracks[trackId]; track.MediaType == mediaType {
			return track
		}
	}
	return nil
}

func (c *Client) cachedByMediaType() map[MediaType]StreamSsrcInfo {
	cached := make(map[MediaType]StreamSsrcInfo)
	for _, trackId := range c.trackOrder {
		track := c.tracks[trackId]
		if track.Cached == nil {
			continue
		}
		if _, ok := cached[track.MediaType]; ok {
			continue
		}
		cached[track.MediaType] = *track.Cached
	}
	return cached
}

// --- renegotiation --------------------------------------------------------

func (c *Client) scheduleRenegotiation(reason string) {
	c.renegotiationReason.Store(reason)
	if c.renegotiationTask != nil {
		c.renegotiationTask.Run()
	}
}

// runRenegotiation is the task body: it only announces the need, the media
// engine answers by generating a description and feeding it through
// ProcessLocalDescription.
func (c *Client) runRenegotiation(context.Context) {
	if !c.isActive.Load() {
		return
	}
	if c.session.State() != SessionActive {
		// Re-announced once the focus accepts the session.
		return
	}
	c.dispatcher.Emit(RenegotiationNeededEvent{Reason: c.renegotiationReason.Load()})
}

// ProcessLocalDescription runs one renegotiation cycle over a raw local
// description: synthesize missing track state, reconcile the fresh ssrcs
// against the cached ground truth, adopt whatever is genuinely new, then
// serialize. The cache update is atomic with respect to the whole cycle.
func (c *Client) ProcessLocalDescription(raw string) (string, error) {
	if !c.isActive.Load() {
		return "", InactiveClientError
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	model, err := ParseSessionDescription(raw)
	if err != nil {
		return "", err
	}

	c.synth.Munge(model, c.trackSlice())

	mapping := BuildSsrcMap(c.log, c.cachedByMediaType(), model)
	ApplySsrcMapping(model, mapping)

	for _, mediaType := range []MediaType{MediaTypeAudio, MediaTypeVideo} {
		track := c.primaryTrackForType(mediaType)
		if track == nil || track.requiresSynthesis() {
			// A synthesized section only ever carries already-cached values,
			// there is nothing new to adopt.
			continue
		}
		section := model.Section(mediaType)
		if section == nil {
			continue
		}
		info := section.StreamSsrcInfo()
		if len(info.Ssrcs) == 0 {
			continue
		}
		track.Cached = &info
		c.alloc.ReserveAll(info.Ssrcs)
	}

	c.metrics.IncRenegotiations()
	return model.Marshal()
}

// ProcessRemoteDescription reserves every remote ssrc so local allocations
// cannot collide with them.
func (c *Client) ProcessRemoteDescription(raw string) error {
	if !c.isActive.Load() {
		return InactiveClientError
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	model, err := ParseSessionDescription(raw)
	if err != nil {
		return err
	}
	for _, section := range model.MediaSections() {
		c.alloc.ReserveAll(section.Ssrcs())
	}
	return nil
}

// --- session passthrough --------------------------------------------------

func (c *Client) SessionState() SessionState {
	return c.session.State()
}

func (c *Client) Accept() error {
	if !c.isActive.Load() {
		return InactiveClientError
	}
	if err := c.session.Accept(); err != nil {
		return err
	}
	c.scheduleRenegotiation("session accepted")
	return nil
}

func (c *Client) Terminate(reason string) {
	if !c.isActive.Load() {
		return
	}
	c.session.Terminate(reason)
}

func (c *Client) HandlePresence(presence Presence) {
	if !c.isActive.Load() {
		return
	}
	c.session.HandlePresence(presence)
}

func (c *Client) SetMembersOnly(enabled bool) {
	if !c.isActive.Load() {
		return
	}
	c.session.SetMembersOnly(enabled)
}

func (c *Client) HandleSuspended(resume func() error) {
	if !c.isActive.Load() {
		return
	}
	c.session.HandleSuspended(resume)
}

func (c *Client) HandleResumed() {
	if !c.isActive.Load() {
		return
	}
	c.session.HandleResumed()
}

func (c *Client) Members() []Member {
	return c.session.Members()
}

// --- bridge channel -------------------------------------------------------

func (c *Client) Subscribe(endpoints map[ /*EndpointId*/ string]VideoConstraint) {
	if !c.isActive.Load() {
		return
	}
	c.subscribedEndpoints.Store(endpoints)
	c.sendDataChannelMessage(createSubscribedEndpointsChangedEvent(c.log, endpoints))
}

func (c *Client) SendEndpointMessage(msgPayload interface{}, to string) {
	if !c.isActive.Load() {
		return
	}
	c.sendDataChannelMessage(createEndpointMessage(c.log, msgPayload, to))
}

func (c *Client) SetReceiverVideoConstraint(maxFrameHeight, maxFrameTemporalLayerId int) {
	if !c.isActive.Load() {
		return
	}
	c.sendDataChannelMessage(createReceiverVideoConstraint(c.log, maxFrameHeight, maxFrameTemporalLayerId))
}

func (c *Client) sendDataChannelMessage(msg string) {
	if c.onNewMessageForDataChannel == nil {
		return
	}
	c.onNewMessageForDataChannel(msg)
}
