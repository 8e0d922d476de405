package confclient

import (
	"errors"
)

var ParseError = errors.New("malformed session description")
var AllocationCollisionError = errors.New("ssrc allocation collision")
var SynthesisInconsistencyError = errors.New("no cached ssrc info for local track")
var ResumeExhaustedError = errors.New("stream resumption attempts exhausted")
var InactiveClientError = errors.New("inactive client")
var StartOnActiveClientError = errors.New("cannot start already started client")
var UnknownTrackError = errors.New("unknown local track")
var DuplicateTrackError = errors.New("local track already registered")
var SessionEndedError = errors.New("session already ended")
